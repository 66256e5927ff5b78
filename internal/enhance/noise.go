package enhance

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"
)

// GateConfig controls spectral and percentile gating
type GateConfig struct {
	FrameSize      int     // STFT frame length
	HopSize        int     // STFT hop
	FloorQuantile  float64 // quantile of per-bin magnitude taken as the noise floor
	FloorScale     float64 // multiplier applied to the floor
	PropDecrease   float64 // fraction removed from gated bins or samples
	FallbackFactor float64 // gain applied to samples under the percentile gate
}

// DefaultGateConfig returns the defaults used for speech windows
func DefaultGateConfig() GateConfig {
	return GateConfig{
		FrameSize:      512,
		HopSize:        128,
		FloorQuantile:  0.1,
		FloorScale:     1.5,
		PropDecrease:   0.3,
		FallbackFactor: 0.8,
	}
}

// SpectralGate attenuates time-frequency bins whose magnitude stays under
// the per-bin noise floor. The floor is estimated from the signal itself as
// a low quantile over all frames, so stationary background is suppressed
// while louder transients pass. Reconstruction uses weighted overlap-add.
func SpectralGate(x []float64, cfg GateConfig) ([]float64, error) {
	n, hop := cfg.FrameSize, cfg.HopSize
	if n <= 0 || hop <= 0 || hop > n {
		return nil, fmt.Errorf("invalid STFT geometry: frame %d hop %d", n, hop)
	}
	if len(x) < n {
		return nil, fmt.Errorf("%w: spectral gate needs %d samples, got %d", ErrSignalTooShort, n, len(x))
	}

	// Pad half a frame on both sides and round up to whole hops.
	pad := n / 2
	total := len(x) + 2*pad
	frames := 1 + int(math.Ceil(float64(total-n)/float64(hop)))
	padded := make([]float64, (frames-1)*hop+n)
	copy(padded[pad:], x)

	win := make([]float64, n)
	for i := range win {
		win[i] = 1
	}
	window.Hann(win)

	fft := fourier.NewFFT(n)
	bins := n/2 + 1
	spectra := make([][]complex128, frames)
	mags := make([][]float64, bins)
	for k := range mags {
		mags[k] = make([]float64, frames)
	}

	seg := make([]float64, n)
	for f := 0; f < frames; f++ {
		start := f * hop
		for i := 0; i < n; i++ {
			seg[i] = padded[start+i] * win[i]
		}
		spectra[f] = fft.Coefficients(nil, seg)
		for k, c := range spectra[f] {
			mags[k][f] = cmplx.Abs(c)
		}
	}

	floors := make([]float64, bins)
	for k := range mags {
		sorted := append([]float64(nil), mags[k]...)
		sort.Float64s(sorted)
		floors[k] = stat.Quantile(cfg.FloorQuantile, stat.Empirical, sorted, nil) * cfg.FloorScale
	}

	gated := 1 - cfg.PropDecrease
	out := make([]float64, len(padded))
	norm := make([]float64, len(padded))
	frame := make([]float64, n)
	for f, spectrum := range spectra {
		for k := range spectrum {
			if mags[k][f] <= floors[k] {
				spectrum[k] *= complex(gated, 0)
			}
		}
		fft.Sequence(frame, spectrum)
		start := f * hop
		for i := 0; i < n; i++ {
			// the inverse transform is unnormalized
			out[start+i] += frame[i] / float64(n) * win[i]
			norm[start+i] += win[i] * win[i]
		}
	}

	result := make([]float64, len(x))
	for i := range result {
		j := i + pad
		if norm[j] > 1e-8 {
			result[i] = out[j] / norm[j]
		}
	}
	if !finite(result) {
		return nil, fmt.Errorf("spectral gate produced non-finite samples")
	}
	return result, nil
}

// PercentileGate scales samples whose magnitude is within FloorScale times
// the FloorQuantile percentile of |x| by FallbackFactor
func PercentileGate(x []float64, cfg GateConfig) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}

	abs := make([]float64, len(x))
	for i, v := range x {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	threshold := stat.Quantile(cfg.FloorQuantile, stat.Empirical, abs, nil) * cfg.FloorScale

	for i, v := range x {
		if math.Abs(v) > threshold {
			out[i] = v
		} else {
			out[i] = v * cfg.FallbackFactor
		}
	}
	return out
}
