package temporal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnergyPassesTone(t *testing.T) {
	const rate = 44100
	e := NewEnergy(rate, 0)

	frame := make([]float64, 1024)
	position := 0
	for range 43 {
		for i := range frame {
			frame[i] = 0.5 * math.Sin(2*math.Pi*1000*float64(position+i)/rate)
		}
		position += len(frame)
		e.Process(frame)
	}

	level := e.Level()
	assert.Equal(t, 43*1024, level.Samples)
	assert.InDelta(t, 0.5/math.Sqrt2, level.RMS, 0.01)
	assert.InDelta(t, 0.5, level.Peak, 0.05)
	assert.InDelta(t, -9.03, level.DBFS, 0.3)
}

func TestEnergyRejectsDC(t *testing.T) {
	e := NewEnergy(44100, DefaultCutoff)
	dc := make([]float64, 44100)
	for i := range dc {
		dc[i] = 0.5
	}
	e.Process(dc)
	assert.Less(t, e.Level().RMS, 0.05)
}

func TestEnergyFlush(t *testing.T) {
	e := NewEnergy(8000, 0)
	e.Process([]float64{0.1, -0.2, 0.3})

	first := e.Flush()
	assert.Equal(t, 3, first.Samples)
	assert.Greater(t, first.RMS, 0.0)

	empty := e.Level()
	assert.Zero(t, empty.Samples)
	assert.Zero(t, empty.RMS)
	assert.Less(t, empty.DBFS, -200.0)
}

func TestProcessLeavesInputUntouched(t *testing.T) {
	e := NewEnergy(8000, 0)
	in := []float64{0.25, 0.25, 0.25}
	e.Process(in)
	assert.Equal(t, []float64{0.25, 0.25, 0.25}, in)
}

func TestShortTimeEnergy(t *testing.T) {
	ones := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	assert.Equal(t, []float64{1, 1, 1, 1}, ShortTimeEnergy(ones, 4, 2))
	assert.Empty(t, ShortTimeEnergy(ones[:3], 4, 2))
	assert.Empty(t, ShortTimeEnergy(ones, 4, 0))
}
