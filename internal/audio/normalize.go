package audio

import (
	"fmt"
	"time"
)

// TargetSampleRate is the rate every downstream component expects
const TargetSampleRate = 16000

// Frame is one block of interleaved samples read from the capture device.
// A Frame owns its sample slice; nothing mutates it after the capture loop hands it off.
type Frame struct {
	Samples    []float32 // interleaved, len = frames * Channels
	SampleRate int
	Channels   int
	Captured   time.Time
}

// Frames returns the number of sample frames held
func (f Frame) Frames() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the wall-clock span covered by the frame
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames()) * time.Second / time.Duration(f.SampleRate)
}

// Downmix averages interleaved channels into a mono signal
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}

	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += interleaved[base+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts a mono signal between rates with linear interpolation.
//
// Input and output positions are spread evenly over [0, 1) and each output
// sample interpolates between its two nearest inputs, clamping at the last
// input sample. This is an approximation without anti-alias filtering; it is
// adequate for speech and cheap enough for real time.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	n := len(samples)
	dstLen := 0
	if srcRate > 0 {
		dstLen = int(int64(n) * int64(dstRate) / int64(srcRate))
	}
	out := make([]float32, dstLen)
	if n <= 1 || dstLen <= 1 {
		return out
	}

	// x_new[j] = j/dstLen expressed in input index units: j*n/dstLen
	step := float64(n) / float64(dstLen)
	last := n - 1
	for j := 0; j < dstLen; j++ {
		pos := float64(j) * step
		i := int(pos)
		if i >= last {
			out[j] = samples[last]
			continue
		}
		frac := float32(pos - float64(i))
		out[j] = samples[i] + (samples[i+1]-samples[i])*frac
	}
	return out
}

// Normalize downmixes a frame and resamples it to dstRate
func Normalize(frame Frame, dstRate int) ([]float32, error) {
	if frame.Channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", frame.Channels)
	}
	if frame.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", frame.SampleRate)
	}
	if len(frame.Samples)%frame.Channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(frame.Samples), frame.Channels)
	}

	mono := Downmix(frame.Samples, frame.Channels)
	return Resample(mono, frame.SampleRate, dstRate), nil
}

// MeanSquare returns the mean of squared samples
func MeanSquare(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}

// Peak returns the largest absolute sample value
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// SamplesFor converts a duration into a sample count at the given rate
func SamplesFor(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}
