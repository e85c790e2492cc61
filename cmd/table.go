package cmd

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/RyanBlaney/zumbido/sink"
)

// colorful reports whether out is a terminal
func colorful(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// renderTable draws rows under headers, dimming the border on terminals
func renderTable(out io.Writer, headers []string, rows [][]string) string {
	border := lipgloss.NewStyle()
	header := lipgloss.NewStyle().Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	if colorful(out) {
		border = border.Foreground(sink.ColorDim)
		header = header.Bold(true)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		String()
}
