package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Framer cuts a continuous normalized signal into fixed-size stream chunks,
// carrying the remainder over to the next push
type Framer struct {
	sampleRate       int
	chunkSamples     int
	silenceThreshold float64
	pending          []float32
}

// NewFramer creates a framer emitting chunks of the given duration
func NewFramer(sampleRate int, chunk time.Duration, silenceThreshold float64) (*Framer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	n := SamplesFor(chunk, sampleRate)
	if n <= 0 {
		return nil, fmt.Errorf("chunk duration %v is too short", chunk)
	}

	return &Framer{
		sampleRate:       sampleRate,
		chunkSamples:     n,
		silenceThreshold: silenceThreshold,
		pending:          make([]float32, 0, n*2),
	}, nil
}

// Push appends samples and returns every complete chunk
func (f *Framer) Push(samples []float32) []Window {
	f.pending = append(f.pending, samples...)

	var chunks []Window
	for len(f.pending) >= f.chunkSamples {
		chunk := make([]float32, f.chunkSamples)
		copy(chunk, f.pending[:f.chunkSamples])
		f.pending = f.pending[:copy(f.pending, f.pending[f.chunkSamples:])]

		energy := MeanSquare(chunk)
		decision := DecisionSilence
		if energy > f.silenceThreshold {
			decision = DecisionSpeech
		}
		chunks = append(chunks, Window{
			Samples:    chunk,
			SampleRate: f.sampleRate,
			Decision:   decision,
			Policy:     PolicyStream,
			Energy:     energy,
			CreatedAt:  time.Now(),
		})
	}
	return chunks
}

// ChunkSamples returns the chunk size in samples
func (f *Framer) ChunkSamples() int {
	return f.chunkSamples
}

// Pending returns the number of samples waiting for a full chunk
func (f *Framer) Pending() int {
	return len(f.pending)
}

// ToPCM16 converts float samples in [-1, 1] to little-endian signed 16-bit PCM.
// Out-of-range values are clipped.
func ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// FromPCM16 converts little-endian signed 16-bit PCM back to floats
func FromPCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm data length must be even (got %d bytes)", len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out, nil
}

// SilencePCM16 returns n samples of PCM16 silence
func SilencePCM16(n int) []byte {
	return make([]byte, n*2)
}

// ToInts converts float samples to clipped 16-bit integer values
func ToInts(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(floatToInt16(s))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}
