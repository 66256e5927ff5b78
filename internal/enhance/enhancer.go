package enhance

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Noise suppression methods
const (
	NoiseSpectral = "spectral"
	NoiseGate     = "gate"
	NoiseOff      = "off"
)

// Stage names reported in Report
const (
	StageDCRemoval   = "dc_removal"
	StagePrePeak     = "pre_normalize"
	StageHighPass    = "highpass"
	StageLowPass     = "lowpass"
	StageNoise       = "noise_reduction"
	StageCompression = "compression"
	StagePreEmphasis = "pre_emphasis"
	StageFinalPeak   = "final_normalize"
	StagePadding     = "padding"
)

// Config contains configuration for the enhancement chain
type Config struct {
	SampleRate int

	PrePeak float64

	HighPassHz    float64
	HighPassOrder int
	LowPassHz     float64
	LowPassOrder  int
	LowPassMax    float64 // upper clamp of the normalized low-pass cutoff

	NoiseMethod      string
	NoiseMinDuration time.Duration
	Gate             GateConfig

	CompressThreshold float64
	CompressRatio     float64

	PreEmphasis float64
	FinalPeak   float64
	MinDuration time.Duration
}

// DefaultConfig returns the enhancement defaults for 16 kHz speech
func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		PrePeak:           0.95,
		HighPassHz:        85,
		HighPassOrder:     5,
		LowPassHz:         7500,
		LowPassOrder:      5,
		LowPassMax:        0.95,
		NoiseMethod:       NoiseSpectral,
		NoiseMinDuration:  500 * time.Millisecond,
		Gate:              DefaultGateConfig(),
		CompressThreshold: 0.4,
		CompressRatio:     2.0,
		PreEmphasis:       0.95,
		FinalPeak:         0.85,
		MinDuration:       500 * time.Millisecond,
	}
}

// Validate checks the enhancement configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.PrePeak <= 0 || c.PrePeak > 1 {
		return fmt.Errorf("pre-normalization peak must be in (0, 1], got %f", c.PrePeak)
	}
	if c.FinalPeak <= 0 || c.FinalPeak > 1 {
		return fmt.Errorf("final peak must be in (0, 1], got %f", c.FinalPeak)
	}
	if c.CompressRatio < 1 {
		return fmt.Errorf("compression ratio must be >= 1, got %f", c.CompressRatio)
	}
	if c.CompressThreshold <= 0 {
		return fmt.Errorf("compression threshold must be positive, got %f", c.CompressThreshold)
	}
	if c.PreEmphasis < 0 || c.PreEmphasis >= 1 {
		return fmt.Errorf("pre-emphasis must be in [0, 1), got %f", c.PreEmphasis)
	}
	switch c.NoiseMethod {
	case NoiseSpectral, NoiseGate, NoiseOff:
	default:
		return fmt.Errorf("unknown noise method %q", c.NoiseMethod)
	}
	if c.Gate.PropDecrease < 0 || c.Gate.PropDecrease > 1 {
		return fmt.Errorf("noise reduction strength must be in [0, 1], got %f", c.Gate.PropDecrease)
	}
	return nil
}

// StageResult records what happened to one stage of the chain
type StageResult struct {
	Name     string `json:"name"`
	Applied  bool   `json:"applied"`
	Fallback bool   `json:"fallback,omitempty"`
	Err      error  `json:"-"`
}

// Report lists the stage outcomes for one enhancement run
type Report struct {
	Stages   []StageResult `json:"stages"`
	Peak     float64       `json:"peak"`
	Duration time.Duration `json:"duration"`
}

// Failures returns stages that errored, including ones that fell back
func (r Report) Failures() []StageResult {
	var out []StageResult
	for _, s := range r.Stages {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Enhancer runs the fixed enhancement chain over speech windows
type Enhancer struct {
	config   Config
	highPass *Filter
	lowPass  *Filter
	// design errors are reported on every run instead of failing construction
	highPassErr error
	lowPassErr  error
	logger      *slog.Logger

	// Statistics
	windowsEnhanced uint64
	stageFailures   uint64
	fallbacks       uint64
	totalTime       time.Duration

	mu sync.Mutex
}

// EnhancerStats represents enhancer statistics
type EnhancerStats struct {
	WindowsEnhanced uint64  `json:"windows_enhanced"`
	StageFailures   uint64  `json:"stage_failures"`
	Fallbacks       uint64  `json:"fallbacks"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
	NoiseMethod     string  `json:"noise_method"`
}

// NewEnhancer creates an enhancer and designs its band-pass filters
func NewEnhancer(config Config, logger *slog.Logger) (*Enhancer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid enhancer config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Enhancer{config: config, logger: logger}
	nyquist := float64(config.SampleRate) / 2

	e.highPass, e.highPassErr = Butterworth(HighPass, config.HighPassOrder, config.HighPassHz/nyquist)
	lowCut := math.Min(config.LowPassHz/nyquist, config.LowPassMax)
	e.lowPass, e.lowPassErr = Butterworth(LowPass, config.LowPassOrder, lowCut)

	if e.highPassErr != nil {
		logger.Warn("High-pass filter disabled", slog.String("error", e.highPassErr.Error()))
	}
	if e.lowPassErr != nil {
		logger.Warn("Low-pass filter disabled", slog.String("error", e.lowPassErr.Error()))
	}
	return e, nil
}

// Enhance runs the chain and returns the processed copy of samples.
// A failing stage leaves its input untouched (or uses its fallback), so
// Enhance always returns usable audio.
func (e *Enhancer) Enhance(samples []float32) ([]float32, Report) {
	start := time.Now()
	report := Report{}
	record := func(name string, applied, fallback bool, err error) {
		report.Stages = append(report.Stages, StageResult{Name: name, Applied: applied, Fallback: fallback, Err: err})
	}

	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}

	if len(x) > 0 {
		floats.AddConst(-stat.Mean(x, nil), x)
		record(StageDCRemoval, true, false, nil)
	}

	record(StagePrePeak, NormalizePeak(x, e.config.PrePeak), false, nil)

	x = e.applyFilter(x, StageHighPass, e.highPass, e.highPassErr, record)
	x = e.applyFilter(x, StageLowPass, e.lowPass, e.lowPassErr, record)

	x = e.reduceNoise(x, record)

	Compress(x, e.config.CompressThreshold, e.config.CompressRatio)
	record(StageCompression, true, false, nil)

	PreEmphasize(x, e.config.PreEmphasis)
	record(StagePreEmphasis, true, false, nil)

	record(StageFinalPeak, NormalizePeak(x, e.config.FinalPeak), false, nil)

	if minLen := int(e.config.MinDuration.Seconds() * float64(e.config.SampleRate)); len(x) < minLen {
		x = append(x, make([]float64, minLen-len(x))...)
		record(StagePadding, true, false, nil)
	}

	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}

	report.Peak = peak(x)
	report.Duration = time.Since(start)
	e.recordRun(report)
	return out, report
}

func (e *Enhancer) applyFilter(x []float64, name string, f *Filter, designErr error,
	record func(string, bool, bool, error)) []float64 {

	if designErr != nil {
		record(name, false, false, designErr)
		return x
	}
	y, err := f.FiltFilt(x)
	if err == nil && !finite(y) {
		err = fmt.Errorf("%s filter produced non-finite samples", name)
	}
	if err != nil {
		record(name, false, false, err)
		return x
	}
	record(name, true, false, nil)
	return y
}

func (e *Enhancer) reduceNoise(x []float64, record func(string, bool, bool, error)) []float64 {
	switch e.config.NoiseMethod {
	case NoiseOff:
		return x
	case NoiseGate:
		record(StageNoise, true, false, nil)
		return PercentileGate(x, e.config.Gate)
	}

	minLen := int(e.config.NoiseMinDuration.Seconds() * float64(e.config.SampleRate))
	if len(x) <= minLen {
		return x
	}
	y, err := SpectralGate(x, e.config.Gate)
	if err != nil {
		record(StageNoise, true, true, err)
		return PercentileGate(x, e.config.Gate)
	}
	record(StageNoise, true, false, nil)
	return y
}

func (e *Enhancer) recordRun(report Report) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.windowsEnhanced++
	e.totalTime += report.Duration
	for _, s := range report.Stages {
		if s.Err != nil {
			e.stageFailures++
		}
		if s.Fallback {
			e.fallbacks++
		}
	}
}

// GetStats returns current enhancer statistics
func (e *Enhancer) GetStats() EnhancerStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	avg := float64(0)
	if e.windowsEnhanced > 0 {
		avg = float64(e.totalTime.Microseconds()) / 1000 / float64(e.windowsEnhanced)
	}
	return EnhancerStats{
		WindowsEnhanced: e.windowsEnhanced,
		StageFailures:   e.stageFailures,
		Fallbacks:       e.fallbacks,
		AvgProcessingMs: avg,
		NoiseMethod:     e.config.NoiseMethod,
	}
}

// NormalizePeak scales x in place so its largest magnitude equals target.
// It reports false for an all-zero signal, which is left unchanged.
func NormalizePeak(x []float64, target float64) bool {
	p := peak(x)
	if p == 0 || math.IsInf(p, 0) || math.IsNaN(p) {
		return false
	}
	floats.Scale(target/p, x)
	return true
}

// Compress applies sign-preserving compression above threshold in place
func Compress(x []float64, threshold, ratio float64) {
	for i, v := range x {
		a := math.Abs(v)
		if a > threshold {
			x[i] = math.Copysign(threshold+(a-threshold)/ratio, v)
		}
	}
}

// PreEmphasize applies y[n] = x[n] - alpha*x[n-1] in place, keeping x[0]
func PreEmphasize(x []float64, alpha float64) {
	for i := len(x) - 1; i > 0; i-- {
		x[i] -= alpha * x[i-1]
	}
}

func peak(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Norm(x, math.Inf(1))
}

func finite(x []float64) bool {
	if floats.HasNaN(x) {
		return false
	}
	for _, v := range x {
		if math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
