package audio

import (
	"math"
	"testing"
	"time"

	"github.com/skypro1111/loopback-transcriber/internal/vad"
)

func newTestSegmenter(t *testing.T) *Segmenter {
	t.Helper()
	detector, err := vad.NewDetector(vad.DefaultConfig(), TargetSampleRate)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	segmenter, err := NewSegmenter(DefaultSegmenterConfig(), detector)
	if err != nil {
		t.Fatalf("Failed to create segmenter: %v", err)
	}
	return segmenter
}

func tone(freq, amplitude float64, n, offset int) []float32 {
	out := make([]float32, n)
	for i := range out {
		pos := float64(i + offset)
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*pos/TargetSampleRate+0.1))
	}
	return out
}

func TestSegmenterConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*SegmenterConfig)
		expectErr bool
	}{
		{"defaults", func(c *SegmenterConfig) {}, false},
		{"zero rate", func(c *SegmenterConfig) { c.SampleRate = 0 }, true},
		{"buffer smaller than window", func(c *SegmenterConfig) { c.MaxBuffer = 2 * time.Second }, true},
		{"overlap equals window", func(c *SegmenterConfig) { c.Overlap = c.ExtractWindow }, true},
		{"negative trim", func(c *SegmenterConfig) { c.SilenceTrim = -time.Second }, true},
		{"zero decision window", func(c *SegmenterConfig) { c.DecisionWindow = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultSegmenterConfig()
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

func TestSegmenterSilenceTrims(t *testing.T) {
	segmenter := newTestSegmenter(t)
	frame := make([]float32, TargetSampleRate)

	for i := 0; i < 10; i++ {
		window, err := segmenter.Push(frame)
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		if window != nil {
			t.Fatal("Expected no window from silence")
		}
		if segmenter.BufferedSamples() > segmenter.MaxSamples() {
			t.Fatalf("Buffer exceeded max: %d", segmenter.BufferedSamples())
		}
	}

	if !segmenter.IsIdle() {
		t.Error("Expected segmenter to stay idle on silence")
	}
	stats := segmenter.GetStats()
	if stats.SilentDecisions != 10 {
		t.Errorf("Expected 10 silent decisions, got %d", stats.SilentDecisions)
	}
	// every silent decision trims half a second from the front
	trim := uint64(SamplesFor(DefaultSegmenterConfig().SilenceTrim, TargetSampleRate))
	if stats.Buffer.TotalTrimmed != 10*trim {
		t.Errorf("Expected %d trimmed samples, got %d", 10*trim, stats.Buffer.TotalTrimmed)
	}
	if stats.Buffer.BufferSize >= segmenter.MaxSamples() {
		t.Errorf("Expected trimming to leave room in the buffer, %d buffered", stats.Buffer.BufferSize)
	}
}

func TestSegmenterSingleUtterance(t *testing.T) {
	segmenter := newTestSegmenter(t)

	frames := [][]float32{
		make([]float32, TargetSampleRate),
		tone(1000, 0.5, TargetSampleRate, 0),
		tone(1000, 0.5, TargetSampleRate, TargetSampleRate),
		tone(1000, 0.5, TargetSampleRate, 2*TargetSampleRate),
		make([]float32, TargetSampleRate),
	}

	var windows []*Window
	for _, frame := range frames {
		window, err := segmenter.Push(frame)
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		if window != nil {
			windows = append(windows, window)
		}
		if segmenter.BufferedSamples() > segmenter.MaxSamples() {
			t.Fatalf("Buffer exceeded max: %d", segmenter.BufferedSamples())
		}
	}

	if len(windows) != 1 {
		t.Fatalf("Expected exactly one window, got %d", len(windows))
	}

	window := windows[0]
	if len(window.Samples) != 3*TargetSampleRate {
		t.Errorf("Expected 3s window, got %d samples", len(window.Samples))
	}
	if window.Decision != DecisionSpeech || window.Policy != PolicyWindowed {
		t.Errorf("Unexpected window tags: %v %v", window.Decision, window.Policy)
	}
	if window.Duration() != 3*time.Second {
		t.Errorf("Expected 3s duration, got %v", window.Duration())
	}
	// the window is pure tone, no leading silence
	if peak := Peak(window.Samples[:1600]); peak < 0.4 {
		t.Errorf("Expected window to start inside the tone, peak %f", peak)
	}
	if !segmenter.IsIdle() {
		t.Error("Expected segmenter to return to idle after dispatch")
	}
}

func TestSegmenterOverlapRetained(t *testing.T) {
	segmenter := newTestSegmenter(t)

	segmenter.Push(tone(1000, 0.5, 3*TargetSampleRate, 0))
	stats := segmenter.GetStats()
	if stats.WindowsCreated != 1 {
		t.Fatalf("Expected one window, got %d", stats.WindowsCreated)
	}

	retained := segmenter.BufferedSamples()
	overlap := SamplesFor(DefaultSegmenterConfig().Overlap, TargetSampleRate)
	if retained != overlap {
		t.Errorf("Expected %d retained samples, got %d", overlap, retained)
	}
	if retained >= 3*TargetSampleRate {
		t.Error("Expected retained overlap to be smaller than the window")
	}
}

func TestSegmenterUtteranceEndFlush(t *testing.T) {
	segmenter := newTestSegmenter(t)

	if w, _ := segmenter.Push(tone(1000, 0.5, TargetSampleRate, 0)); w != nil {
		t.Fatal("Expected no window after one second of speech")
	}
	if segmenter.IsIdle() {
		t.Fatal("Expected segmenter to be collecting")
	}

	window, err := segmenter.Push(make([]float32, TargetSampleRate))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if window == nil {
		t.Fatal("Expected utterance end to flush a window")
	}
	if len(window.Samples) != 2*TargetSampleRate {
		t.Errorf("Expected the 2s buffered, got %d samples", len(window.Samples))
	}
}

func TestSegmenterRejectsNonSpeech(t *testing.T) {
	segmenter := newTestSegmenter(t)

	// loud 7.5 kHz tone passes the energy gate but not the detector
	for i := 0; i < 6; i++ {
		window, _ := segmenter.Push(tone(7500, 0.5, TargetSampleRate, i*TargetSampleRate))
		if window != nil {
			t.Fatal("Expected no window for out-of-band tone")
		}
	}

	stats := segmenter.GetStats()
	if stats.Rejected != 6 {
		t.Errorf("Expected 6 rejected candidates, got %d", stats.Rejected)
	}
}

func TestSegmenterFlush(t *testing.T) {
	segmenter := newTestSegmenter(t)

	if segmenter.Flush() != nil {
		t.Error("Expected nil flush while idle")
	}
	segmenter.Push(tone(1000, 0.5, TargetSampleRate, 0))
	if window := segmenter.Flush(); window == nil {
		t.Error("Expected flush to emit the open utterance")
	}
	if !segmenter.IsIdle() {
		t.Error("Expected idle after flush")
	}
}
