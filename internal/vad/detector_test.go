package vad

import (
	"math"
	"testing"
)

func sine(freq float64, amplitude float64, n, sampleRate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		// small phase offset keeps samples off the exact zero crossings
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)+0.1))
	}
	return out
}

func TestNewDetectorValidation(t *testing.T) {
	tests := []struct {
		name       string
		config     Config
		sampleRate int
		expectErr  bool
	}{
		{
			name:       "default config",
			config:     DefaultConfig(),
			sampleRate: 16000,
			expectErr:  false,
		},
		{
			name:       "negative energy threshold",
			config:     Config{EnergyThreshold: -1, MinZCR: 0.01, MaxZCR: 0.3, MinCentroid: 200, MaxCentroid: 4000},
			sampleRate: 16000,
			expectErr:  true,
		},
		{
			name:       "inverted zcr band",
			config:     Config{EnergyThreshold: 0.001, MinZCR: 0.3, MaxZCR: 0.01, MinCentroid: 200, MaxCentroid: 4000},
			sampleRate: 16000,
			expectErr:  true,
		},
		{
			name:       "inverted centroid band",
			config:     Config{EnergyThreshold: 0.001, MinZCR: 0.01, MaxZCR: 0.3, MinCentroid: 4000, MaxCentroid: 200},
			sampleRate: 16000,
			expectErr:  true,
		},
		{
			name:       "zero sample rate",
			config:     DefaultConfig(),
			sampleRate: 0,
			expectErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector(tt.config, tt.sampleRate)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestAnalyzeSilence(t *testing.T) {
	detector, err := NewDetector(DefaultConfig(), 16000)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	result := detector.Analyze(make([]float32, 16000))
	if result.IsSpeech {
		t.Error("Expected all-zero window to be non-speech")
	}
	if result.Energy != 0 {
		t.Errorf("Expected zero energy, got %f", result.Energy)
	}
	if result.Centroid != 0 {
		t.Errorf("Expected zero centroid for empty spectrum, got %f", result.Centroid)
	}
	if result.ZeroCrossRate != 0 {
		t.Errorf("Expected zero crossing rate 0, got %f", result.ZeroCrossRate)
	}
}

func TestAnalyzeTone(t *testing.T) {
	detector, err := NewDetector(DefaultConfig(), 16000)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	result := detector.Analyze(sine(1000, 0.5, 16000, 16000))
	if !result.IsSpeech {
		t.Errorf("Expected 1 kHz tone to be classified as speech, got %+v", result)
	}
	if math.Abs(result.ZeroCrossRate-0.125) > 0.01 {
		t.Errorf("Expected zero crossing rate near 0.125, got %f", result.ZeroCrossRate)
	}
	if math.Abs(result.Centroid-1000) > 50 {
		t.Errorf("Expected centroid near 1000 Hz, got %f", result.Centroid)
	}
}

func TestAnalyzeQuietTone(t *testing.T) {
	detector, err := NewDetector(DefaultConfig(), 16000)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	// mean square of a 0.01 amplitude sine is 5e-5, below the gate
	result := detector.Analyze(sine(1000, 0.01, 16000, 16000))
	if result.HasEnergy {
		t.Errorf("Expected quiet tone to fail the energy gate, energy=%f", result.Energy)
	}
	if result.IsSpeech {
		t.Error("Expected quiet tone to be non-speech")
	}
	if !result.VoiceLikeSpect {
		t.Error("Expected spectral check to still see a voice-band centroid")
	}
}

func TestAnalyzeOutOfBand(t *testing.T) {
	detector, err := NewDetector(DefaultConfig(), 16000)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	// 7 kHz: ZCR ~0.875 and centroid far above the voice band
	result := detector.Analyze(sine(7000, 0.5, 16000, 16000))
	if result.VoiceLikeZCR || result.VoiceLikeSpect {
		t.Errorf("Expected 7 kHz tone outside both bands, got %+v", result)
	}
	if result.IsSpeech {
		t.Error("Expected 7 kHz tone to be non-speech")
	}
}

func TestZeroCrossingRate(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float64
	}{
		{"empty", nil, 0},
		{"constant", []float32{1, 1, 1, 1}, 0},
		{"alternating", []float32{1, -1, 1, -1}, 3.0 * 2 / 8},
		{"through zero", []float32{1, 0, -1}, 2.0 / 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZeroCrossingRate(tt.samples)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestDetectorStats(t *testing.T) {
	detector, err := NewDetector(DefaultConfig(), 16000)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	detector.Analyze(make([]float32, 1600))
	detector.Analyze(sine(1000, 0.5, 1600, 16000))

	stats := detector.GetStats()
	if stats.TotalWindows != 2 {
		t.Errorf("Expected 2 windows, got %d", stats.TotalWindows)
	}
	if stats.SpeechWindows != 1 {
		t.Errorf("Expected 1 speech window, got %d", stats.SpeechWindows)
	}
	if stats.SpeechPercentage != 50 {
		t.Errorf("Expected 50%% speech, got %f", stats.SpeechPercentage)
	}

	detector.Reset()
	if detector.GetStats().TotalWindows != 0 {
		t.Error("Expected stats to be cleared after reset")
	}
}
