package vad

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Config holds the speech heuristic thresholds
type Config struct {
	EnergyThreshold float64 // mean square, strictly exceeded
	MinZCR          float64 // exclusive bounds of the speech zero-crossing band
	MaxZCR          float64
	MinCentroid     float64 // exclusive bounds of the speech centroid band, Hz
	MaxCentroid     float64
}

// DefaultConfig returns the thresholds tuned for 16 kHz speech
func DefaultConfig() Config {
	return Config{
		EnergyThreshold: 0.001,
		MinZCR:          0.01,
		MaxZCR:          0.3,
		MinCentroid:     200,
		MaxCentroid:     4000,
	}
}

// Validate checks that the bands are well formed
func (c Config) Validate() error {
	if c.EnergyThreshold < 0 {
		return fmt.Errorf("energy threshold must be non-negative, got %f", c.EnergyThreshold)
	}
	if c.MinZCR < 0 || c.MaxZCR <= c.MinZCR {
		return fmt.Errorf("invalid zero-crossing band (%f, %f)", c.MinZCR, c.MaxZCR)
	}
	if c.MinCentroid < 0 || c.MaxCentroid <= c.MinCentroid {
		return fmt.Errorf("invalid centroid band (%f, %f)", c.MinCentroid, c.MaxCentroid)
	}
	return nil
}

// Detector classifies a window of mono samples as speech-like or not using
// energy, zero-crossing rate and spectral centroid
type Detector struct {
	config     Config
	sampleRate int

	// FFT plans keyed by window length
	plans map[int]*fourier.FFT

	// Statistics
	totalWindows  uint64
	speechWindows uint64
	lastProcessed time.Time

	mu sync.Mutex
}

// Result represents the features and verdict for one window
type Result struct {
	Energy         float64       `json:"energy"`
	ZeroCrossRate  float64       `json:"zero_crossing_rate"`
	Centroid       float64       `json:"spectral_centroid_hz"`
	HasEnergy      bool          `json:"has_energy"`
	VoiceLikeZCR   bool          `json:"voice_like_zcr"`
	VoiceLikeSpect bool          `json:"voice_like_spectrum"`
	IsSpeech       bool          `json:"is_speech"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TotalWindows     uint64    `json:"total_windows"`
	SpeechWindows    uint64    `json:"speech_windows"`
	SpeechPercentage float64   `json:"speech_percentage"`
	LastProcessed    time.Time `json:"last_processed"`
	EnergyThreshold  float64   `json:"energy_threshold"`
}

// NewDetector creates a speech activity detector for the given sample rate
func NewDetector(config Config, sampleRate int) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Detector{
		config:     config,
		sampleRate: sampleRate,
		plans:      make(map[int]*fourier.FFT),
	}, nil
}

// Analyze computes the features of a window and decides whether it is speech.
// Speech requires energy above the threshold and either a voice-like
// zero-crossing rate or a voice-like spectral centroid.
func (d *Detector) Analyze(samples []float32) Result {
	startTime := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	result := Result{
		Energy:        meanSquare(samples),
		ZeroCrossRate: ZeroCrossingRate(samples),
		Centroid:      d.centroid(samples),
	}

	result.HasEnergy = result.Energy > d.config.EnergyThreshold
	result.VoiceLikeZCR = result.ZeroCrossRate > d.config.MinZCR && result.ZeroCrossRate < d.config.MaxZCR
	result.VoiceLikeSpect = result.Centroid > d.config.MinCentroid && result.Centroid < d.config.MaxCentroid
	result.IsSpeech = result.HasEnergy && (result.VoiceLikeZCR || result.VoiceLikeSpect)

	d.totalWindows++
	if result.IsSpeech {
		d.speechWindows++
	}
	d.lastProcessed = time.Now()
	result.ProcessingTime = time.Since(startTime)

	return result
}

// IsSpeech is a convenience wrapper over Analyze
func (d *Detector) IsSpeech(samples []float32) bool {
	return d.Analyze(samples).IsSpeech
}

// ZeroCrossingRate returns sum(|diff(sign(x))|) / (2N), with sign(0) = 0
func ZeroCrossingRate(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var crossings float64
	prev := sign(samples[0])
	for _, s := range samples[1:] {
		cur := sign(s)
		crossings += math.Abs(cur - prev)
		prev = cur
	}
	return crossings / (2 * float64(len(samples)))
}

// centroid returns the magnitude-weighted mean frequency over the positive
// half of the spectrum, or 0 when the spectrum is empty
func (d *Detector) centroid(samples []float32) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}

	plan, ok := d.plans[n]
	if !ok {
		plan = fourier.NewFFT(n)
		d.plans[n] = plan
	}

	seq := make([]float64, n)
	for i, s := range samples {
		seq[i] = float64(s)
	}
	coeffs := plan.Coefficients(nil, seq)

	var weighted, total float64
	half := n / 2
	for k := 0; k < half && k < len(coeffs); k++ {
		mag := cmplx.Abs(coeffs[k])
		weighted += plan.Freq(k) * float64(d.sampleRate) * mag
		total += mag
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	speechPercentage := float64(0)
	if d.totalWindows > 0 {
		speechPercentage = float64(d.speechWindows) / float64(d.totalWindows) * 100
	}

	return DetectorStats{
		TotalWindows:     d.totalWindows,
		SpeechWindows:    d.speechWindows,
		SpeechPercentage: speechPercentage,
		LastProcessed:    d.lastProcessed,
		EnergyThreshold:  d.config.EnergyThreshold,
	}
}

// Reset clears the statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalWindows = 0
	d.speechWindows = 0
	d.lastProcessed = time.Time{}
}

func sign(s float32) float64 {
	switch {
	case s > 0:
		return 1
	case s < 0:
		return -1
	default:
		return 0
	}
}

func meanSquare(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}
