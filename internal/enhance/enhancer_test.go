package enhance

import (
	"io"
	"log/slog"
	"math"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func toneWindow(freq, amplitude float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/16000+0.1))
	}
	return out
}

func peak32(x []float32) float64 {
	var p float64
	for _, v := range x {
		if a := math.Abs(float64(v)); a > p {
			p = a
		}
	}
	return p
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"final peak above one", func(c *Config) { c.FinalPeak = 1.2 }, true},
		{"ratio below one", func(c *Config) { c.CompressRatio = 0.5 }, true},
		{"unknown noise method", func(c *Config) { c.NoiseMethod = "wiener" }, true},
		{"pre-emphasis of one", func(c *Config) { c.PreEmphasis = 1 }, true},
		{"gate noise method", func(c *Config) { c.NoiseMethod = NoiseGate }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			err := config.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestEnhanceTone(t *testing.T) {
	enhancer, err := NewEnhancer(DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create enhancer: %v", err)
	}

	input := toneWindow(1000, 0.5, 48000)
	out, report := enhancer.Enhance(input)

	if len(out) != len(input) {
		t.Fatalf("Expected %d samples, got %d", len(input), len(out))
	}
	if got := peak32(out); math.Abs(got-0.85) > 1e-3 {
		t.Errorf("Expected final peak 0.85, got %f", got)
	}
	if failures := report.Failures(); len(failures) != 0 {
		t.Errorf("Expected no stage failures, got %+v", failures)
	}

	applied := map[string]bool{}
	for _, s := range report.Stages {
		applied[s.Name] = s.Applied
	}
	for _, name := range []string{StageDCRemoval, StageHighPass, StageLowPass, StageNoise, StageCompression, StagePreEmphasis, StageFinalPeak} {
		if !applied[name] {
			t.Errorf("Expected stage %s to be applied", name)
		}
	}
	if applied[StagePadding] {
		t.Error("Expected no padding for a 3s window")
	}

	stats := enhancer.GetStats()
	if stats.WindowsEnhanced != 1 {
		t.Errorf("Expected 1 window enhanced, got %d", stats.WindowsEnhanced)
	}
}

func TestEnhanceSilence(t *testing.T) {
	enhancer, err := NewEnhancer(DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create enhancer: %v", err)
	}

	out, report := enhancer.Enhance(make([]float32, 16000))
	for i, v := range out {
		if v != 0 || math.IsNaN(float64(v)) {
			t.Fatalf("Sample %d: expected silence to stay silent, got %f", i, v)
		}
	}
	if report.Peak != 0 {
		t.Errorf("Expected zero peak, got %f", report.Peak)
	}
}

func TestEnhanceShortWindowDegrades(t *testing.T) {
	enhancer, err := NewEnhancer(DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create enhancer: %v", err)
	}

	// too short for filter padding: filters are skipped, output is padded
	out, report := enhancer.Enhance(toneWindow(1000, 0.5, 10))
	if len(out) != 8000 {
		t.Fatalf("Expected padding to 0.5s (8000 samples), got %d", len(out))
	}

	failed := map[string]bool{}
	for _, s := range report.Failures() {
		failed[s.Name] = true
	}
	if !failed[StageHighPass] || !failed[StageLowPass] {
		t.Errorf("Expected both filters to report failures, got %+v", report.Failures())
	}
	if got := peak32(out); math.Abs(got-0.85) > 1e-3 {
		t.Errorf("Expected final peak 0.85, got %f", got)
	}
}

func TestNormalizePeakIdempotent(t *testing.T) {
	x := []float64{0.1, -0.4, 0.25, 0.05}

	if !NormalizePeak(x, 0.85) {
		t.Fatal("Expected first normalization to apply")
	}
	first := append([]float64(nil), x...)

	NormalizePeak(x, 0.85)
	for i := range x {
		if math.Abs(x[i]-first[i]) > 1e-12 {
			t.Errorf("Sample %d: expected %f after second pass, got %f", i, first[i], x[i])
		}
	}
	if math.Abs(peak(x)-0.85) > 1e-12 {
		t.Errorf("Expected peak 0.85, got %f", peak(x))
	}

	zeros := make([]float64, 4)
	if NormalizePeak(zeros, 0.85) {
		t.Error("Expected all-zero signal to be left alone")
	}
}

func TestCompress(t *testing.T) {
	x := []float64{0.2, 0.6, -0.8, 0.4, -0.3}
	Compress(x, 0.4, 2)

	expected := []float64{0.2, 0.5, -0.6, 0.4, -0.3}
	for i := range expected {
		if math.Abs(x[i]-expected[i]) > 1e-12 {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], x[i])
		}
	}
}

func TestPreEmphasize(t *testing.T) {
	x := []float64{1, 1, 0, 2}
	PreEmphasize(x, 0.5)

	expected := []float64{1, 0.5, -0.5, 2}
	for i := range expected {
		if math.Abs(x[i]-expected[i]) > 1e-12 {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], x[i])
		}
	}
}

func TestPercentileGate(t *testing.T) {
	x := make([]float64, 100)
	for i := range x {
		x[i] = 0.5
	}
	for i := 0; i < 20; i++ {
		x[i] = 0.01
	}

	out := PercentileGate(x, DefaultGateConfig())
	if math.Abs(out[0]-0.008) > 1e-12 {
		t.Errorf("Expected quiet sample to be attenuated to 0.008, got %f", out[0])
	}
	if out[50] != 0.5 {
		t.Errorf("Expected loud sample to pass, got %f", out[50])
	}
}

func TestSpectralGate(t *testing.T) {
	cfg := DefaultGateConfig()

	if _, err := SpectralGate(make([]float64, 100), cfg); err == nil {
		t.Error("Expected error for a signal shorter than one frame")
	}

	// a steady tone sits on its own noise floor and is attenuated uniformly
	n := 16000
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.5 * math.Sin(2*math.Pi*1000*float64(i)/16000+0.1)
	}
	y, err := SpectralGate(x, cfg)
	if err != nil {
		t.Fatalf("SpectralGate failed: %v", err)
	}
	if len(y) != n {
		t.Fatalf("Expected %d samples, got %d", n, len(y))
	}

	ratio := peak(y[2000:14000]) / 0.5
	if math.Abs(ratio-(1-cfg.PropDecrease)) > 0.05 {
		t.Errorf("Expected gain near %f, got %f", 1-cfg.PropDecrease, ratio)
	}
}

func TestReconstructionWithoutGating(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.PropDecrease = 0

	x := make([]float64, 4096)
	for i := range x {
		x[i] = math.Sin(float64(i)*0.07) * 0.3
	}
	y, err := SpectralGate(x, cfg)
	if err != nil {
		t.Fatalf("SpectralGate failed: %v", err)
	}
	for i := range x {
		if math.Abs(x[i]-y[i]) > 1e-6 {
			t.Fatalf("Sample %d: expected perfect reconstruction, got %f vs %f", i, y[i], x[i])
		}
	}
}
