package common

// SampleRing is a fixed-capacity FIFO of samples. Writing into a full ring
// overwrites the oldest samples and reports how many were lost. It is not
// safe for concurrent use; callers serialize access.
type SampleRing struct {
	buffer   []float64
	size     int
	writePos int
	readPos  int
	count    int
}

// NewSampleRing creates a ring holding at most size samples
func NewSampleRing(size int) *SampleRing {
	if size < 1 {
		size = 1
	}
	return &SampleRing{
		buffer: make([]float64, size),
		size:   size,
	}
}

// Write appends data, dropping the oldest samples when the ring is full.
// It returns the number of samples that were overwritten.
func (r *SampleRing) Write(data []float64) (dropped int) {
	// Only the newest size samples of an oversized write can survive
	if len(data) > r.size {
		dropped += len(data) - r.size
		data = data[len(data)-r.size:]
	}

	for _, sample := range data {
		r.buffer[r.writePos] = sample
		r.writePos = (r.writePos + 1) % r.size
		if r.count < r.size {
			r.count++
		} else {
			r.readPos = (r.readPos + 1) % r.size
			dropped++
		}
	}
	return dropped
}

// Peek copies up to len(dst) of the oldest samples into dst without
// consuming them.
func (r *SampleRing) Peek(dst []float64) int {
	n := min(len(dst), r.count)
	pos := r.readPos
	for i := range n {
		dst[i] = r.buffer[pos]
		pos = (pos + 1) % r.size
	}
	return n
}

// Read copies and consumes up to len(dst) samples.
func (r *SampleRing) Read(dst []float64) int {
	n := r.Peek(dst)
	r.Discard(n)
	return n
}

// Discard consumes n of the oldest samples. It returns how many were
// actually consumed.
func (r *SampleRing) Discard(n int) int {
	n = max(0, min(n, r.count))
	r.readPos = (r.readPos + n) % r.size
	r.count -= n
	return n
}

// Available returns the number of buffered samples
func (r *SampleRing) Available() int {
	return r.count
}

// Space returns how many samples can be written before data is dropped
func (r *SampleRing) Space() int {
	return r.size - r.count
}

// Cap returns the ring capacity
func (r *SampleRing) Cap() int {
	return r.size
}

// Reset empties the ring
func (r *SampleRing) Reset() {
	r.writePos = 0
	r.readPos = 0
	r.count = 0
}
