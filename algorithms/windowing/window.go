package windowing

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/RyanBlaney/zumbido/algorithms/common"
)

// Kind names a tapering function applied to each analysis window
type Kind string

const (
	Hann           Kind = "hann"
	Hamming        Kind = "hamming"
	Blackman       Kind = "blackman"
	BlackmanHarris Kind = "blackman-harris"
	Rectangular    Kind = "rectangular"
)

// Kinds lists every supported window kind
func Kinds() []Kind {
	return []Kind{Hann, Hamming, Blackman, BlackmanHarris, Rectangular}
}

// ParseKind resolves a config value such as "Hann" or "blackman_harris"
func ParseKind(name string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	if normalized == "" {
		return Hann, nil
	}
	k := Kind(normalized)
	if !slices.Contains(Kinds(), k) {
		return "", common.NewConfigError("window_function", "unsupported window %q", name)
	}
	return k, nil
}

// Window holds precomputed periodic coefficients for one window length.
// The periodic form (denominator N) is the one used for spectral analysis.
type Window struct {
	kind         Kind
	coefficients []float64
	coherentGain float64
}

// New creates a window of the given kind and size
func New(kind Kind, size int) (*Window, error) {
	if size < 2 {
		return nil, common.NewConfigError("window_size", "must be at least 2, got %d", size)
	}

	w := &Window{kind: kind, coefficients: make([]float64, size)}
	n := float64(size)

	for i := range size {
		arg := 2 * math.Pi * float64(i) / n
		switch kind {
		case Hann:
			w.coefficients[i] = 0.5 * (1.0 - math.Cos(arg))
		case Hamming:
			w.coefficients[i] = 0.54 - 0.46*math.Cos(arg)
		case Blackman:
			w.coefficients[i] = 0.42 - 0.5*math.Cos(arg) + 0.08*math.Cos(2*arg)
		case BlackmanHarris:
			w.coefficients[i] = 0.35875 - 0.48829*math.Cos(arg) + 0.14128*math.Cos(2*arg) - 0.01168*math.Cos(3*arg)
		case Rectangular:
			w.coefficients[i] = 1.0
		default:
			return nil, common.NewConfigError("window_function", "unsupported window %q", kind)
		}
	}

	w.coherentGain = common.Mean(w.coefficients)
	return w, nil
}

// Apply returns a windowed copy of signal
func (w *Window) Apply(signal []float64) ([]float64, error) {
	out := slices.Clone(signal)
	if err := w.ApplyInPlace(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyInPlace multiplies signal by the window coefficients
func (w *Window) ApplyInPlace(signal []float64) error {
	if len(signal) != len(w.coefficients) {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), len(w.coefficients))
	}
	for i := range signal {
		signal[i] *= w.coefficients[i]
	}
	return nil
}

// CoherentGain is the mean coefficient. Dividing a windowed magnitude by
// size*CoherentGain/2 recovers the amplitude of a bin-centred sinusoid.
func (w *Window) CoherentGain() float64 {
	return w.coherentGain
}

// Coefficients returns a copy of the window coefficients
func (w *Window) Coefficients() []float64 {
	return slices.Clone(w.coefficients)
}

func (w *Window) Size() int {
	return len(w.coefficients)
}

func (w *Window) Kind() Kind {
	return w.kind
}
