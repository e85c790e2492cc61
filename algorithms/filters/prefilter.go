package filters

// PreFilter conditions the time signal before analysis: a DC blocker
// followed by a parallel bank of bandpass biquads, one per band, summed.
// State carries across calls so consecutive frames filter seamlessly.
type PreFilter struct {
	dc    *DCRemoval
	banks []*Biquad
}

// NewPreFilter builds one bandpass per band
func NewPreFilter(sampleRate int, bands []TargetBand) *PreFilter {
	p := &PreFilter{dc: NewDCRemoval()}
	for _, b := range bands {
		b = b.Normalized()
		p.banks = append(p.banks, NewBandpass(sampleRate, b.Center, b.Width()))
	}
	return p
}

// ProcessInPlace replaces buf with the filtered signal
func (p *PreFilter) ProcessInPlace(buf []float64) {
	p.dc.ProcessInPlace(buf)
	if len(p.banks) == 0 {
		return
	}
	for i, x := range buf {
		sum := 0.0
		for _, bq := range p.banks {
			sum += bq.Process(x)
		}
		buf[i] = sum
	}
}

// Response sums the bandpass magnitude responses at freq. It bounds the
// bank's gain from above and ignores the DC blocker.
func (p *PreFilter) Response(freq float64) float64 {
	sum := 0.0
	for _, bq := range p.banks {
		sum += bq.Response(freq)
	}
	return sum
}

func (p *PreFilter) Reset() {
	p.dc.Reset()
	for _, bq := range p.banks {
		bq.Reset()
	}
}
