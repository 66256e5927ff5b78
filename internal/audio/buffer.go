package audio

import (
	"fmt"
	"sync"
	"time"
)

// RollingBuffer holds the most recent normalized mono samples, bounded by a
// maximum length. Appends that overflow the bound drop the oldest samples.
type RollingBuffer struct {
	sampleRate int
	maxSamples int
	samples    []float32

	// Statistics
	totalAppended uint64
	totalDropped  uint64
	totalTrimmed  uint64
	lastUpdate    time.Time

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	SampleRate    int       `json:"sample_rate"`
	BufferSize    int       `json:"buffer_size_samples"`
	MaxSize       int       `json:"max_size_samples"`
	BufferSeconds float64   `json:"buffer_seconds"`
	TotalAppended uint64    `json:"total_appended_samples"`
	TotalDropped  uint64    `json:"total_dropped_samples"`
	TotalTrimmed  uint64    `json:"total_trimmed_samples"`
	LastUpdate    time.Time `json:"last_update"`
}

// NewRollingBuffer creates a buffer holding at most maxDuration of audio
func NewRollingBuffer(sampleRate int, maxDuration time.Duration) (*RollingBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	maxSamples := SamplesFor(maxDuration, sampleRate)
	if maxSamples <= 0 {
		return nil, fmt.Errorf("max duration must cover at least one sample, got %v", maxDuration)
	}

	return &RollingBuffer{
		sampleRate: sampleRate,
		maxSamples: maxSamples,
		samples:    make([]float32, 0, maxSamples),
	}, nil
}

// Append adds samples, discarding the oldest ones above the bound
func (b *RollingBuffer) Append(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalAppended += uint64(len(samples))
	b.lastUpdate = time.Now()

	if len(samples) >= b.maxSamples {
		b.totalDropped += uint64(len(b.samples) + len(samples) - b.maxSamples)
		b.samples = append(b.samples[:0], samples[len(samples)-b.maxSamples:]...)
		return
	}

	if overflow := len(b.samples) + len(samples) - b.maxSamples; overflow > 0 {
		b.dropFront(overflow)
		b.totalDropped += uint64(overflow)
	}
	b.samples = append(b.samples, samples...)
}

// TrimFront removes up to n samples from the front and returns how many were removed
func (b *RollingBuffer) TrimFront(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return 0
	}
	if n > len(b.samples) {
		n = len(b.samples)
	}
	b.dropFront(n)
	b.totalTrimmed += uint64(n)
	return n
}

// KeepTail discards everything except the last n samples
func (b *RollingBuffer) KeepTail(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if drop := len(b.samples) - n; drop > 0 {
		b.dropFront(drop)
		b.totalTrimmed += uint64(drop)
	}
}

// Tail returns a copy of the last n samples (or everything when fewer are held)
func (b *RollingBuffer) Tail(n int) []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > len(b.samples) {
		n = len(b.samples)
	}
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	copy(out, b.samples[len(b.samples)-n:])
	return out
}

// Len returns the number of samples held
func (b *RollingBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Capacity returns the maximum number of samples held
func (b *RollingBuffer) Capacity() int {
	return b.maxSamples
}

// Duration returns the amount of audio currently buffered
func (b *RollingBuffer) Duration() time.Duration {
	return time.Duration(b.Len()) * time.Second / time.Duration(b.sampleRate)
}

// Clear empties the buffer
func (b *RollingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}

// GetStats returns current buffer statistics
func (b *RollingBuffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		SampleRate:    b.sampleRate,
		BufferSize:    len(b.samples),
		MaxSize:       b.maxSamples,
		BufferSeconds: float64(len(b.samples)) / float64(b.sampleRate),
		TotalAppended: b.totalAppended,
		TotalDropped:  b.totalDropped,
		TotalTrimmed:  b.totalTrimmed,
		LastUpdate:    b.lastUpdate,
	}
}

// dropFront shifts the slice left in place so the backing array is reused
func (b *RollingBuffer) dropFront(n int) {
	kept := copy(b.samples, b.samples[n:])
	b.samples = b.samples[:kept]
}
