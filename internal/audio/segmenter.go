package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/loopback-transcriber/internal/vad"
)

// SegmentState represents the current state of the segmentation process
type SegmentState int

const (
	StateIdle SegmentState = iota
	StateCollecting
)

func (s SegmentState) String() string {
	if s == StateCollecting {
		return "collecting"
	}
	return "idle"
}

// Decision records how a window was classified
type Decision int

const (
	DecisionSilence Decision = iota
	DecisionSpeech
)

func (d Decision) String() string {
	if d == DecisionSpeech {
		return "speech"
	}
	return "silence"
}

// Policy records how a window is meant to be delivered
type Policy int

const (
	// PolicyWindowed windows are extracted slices handed to a batch engine
	PolicyWindowed Policy = iota
	// PolicyStream windows are fixed-size chunks of a continuous stream
	PolicyStream
)

func (p Policy) String() string {
	if p == PolicyStream {
		return "stream"
	}
	return "windowed"
}

// Window is a copy of recent normalized samples ready for delivery
type Window struct {
	Samples    []float32  `json:"-"`
	SampleRate int        `json:"sample_rate"`
	Decision   Decision   `json:"decision"`
	Policy     Policy     `json:"policy"`
	Energy     float64    `json:"energy"`
	Speech     vad.Result `json:"speech"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Duration returns the span of audio in the window
func (w Window) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// SegmenterConfig contains configuration for the segmentation process
type SegmenterConfig struct {
	SampleRate       int
	MaxBuffer        time.Duration
	DecisionWindow   time.Duration
	SilenceThreshold float64 // mean square of the decision window
	SilenceTrim      time.Duration
	ExtractWindow    time.Duration
	Overlap          time.Duration
}

// DefaultSegmenterConfig returns the defaults for 16 kHz mono input
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:       TargetSampleRate,
		MaxBuffer:        5 * time.Second,
		DecisionWindow:   time.Second,
		SilenceThreshold: 0.001,
		SilenceTrim:      500 * time.Millisecond,
		ExtractWindow:    3 * time.Second,
		Overlap:          500 * time.Millisecond,
	}
}

// Validate checks the relationships between the configured durations
func (c SegmenterConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.DecisionWindow <= 0 {
		return fmt.Errorf("decision window must be positive, got %v", c.DecisionWindow)
	}
	if c.ExtractWindow <= 0 {
		return fmt.Errorf("extraction window must be positive, got %v", c.ExtractWindow)
	}
	if c.MaxBuffer < c.ExtractWindow || c.MaxBuffer < c.DecisionWindow {
		return fmt.Errorf("max buffer %v must hold the extraction window %v and decision window %v",
			c.MaxBuffer, c.ExtractWindow, c.DecisionWindow)
	}
	if c.Overlap < 0 || c.Overlap >= c.ExtractWindow {
		return fmt.Errorf("overlap %v must be in [0, %v)", c.Overlap, c.ExtractWindow)
	}
	if c.SilenceTrim < 0 {
		return fmt.Errorf("silence trim must be non-negative, got %v", c.SilenceTrim)
	}
	if c.SilenceThreshold < 0 {
		return fmt.Errorf("silence threshold must be non-negative, got %f", c.SilenceThreshold)
	}
	return nil
}

// Segmenter turns a stream of normalized samples into speech windows.
// It owns a RollingBuffer and consults a Detector on each decision window.
type Segmenter struct {
	config   SegmenterConfig
	buffer   *RollingBuffer
	detector *vad.Detector
	state    SegmentState

	decisionSamples int
	extractSamples  int
	overlapSamples  int
	trimSamples     int

	// Statistics
	decisions        uint64
	silentDecisions  uint64
	rejected         uint64
	windowsCreated   uint64
	totalWindowAudio time.Duration
	lastEnergy       float64

	mu sync.Mutex
}

// SegmenterStats represents segmenter statistics
type SegmenterStats struct {
	State           string      `json:"state"`
	Decisions       uint64      `json:"decisions"`
	SilentDecisions uint64      `json:"silent_decisions"`
	Rejected        uint64      `json:"rejected_candidates"`
	WindowsCreated  uint64      `json:"windows_created"`
	AvgWindowSec    float64     `json:"avg_window_duration_sec"`
	LastEnergy      float64     `json:"last_energy"`
	Buffer          BufferStats `json:"buffer"`
}

// NewSegmenter creates a segmenter with its own rolling buffer
func NewSegmenter(config SegmenterConfig, detector *vad.Detector) (*Segmenter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}

	buffer, err := NewRollingBuffer(config.SampleRate, config.MaxBuffer)
	if err != nil {
		return nil, err
	}

	extract := SamplesFor(config.ExtractWindow, config.SampleRate)
	overlap := SamplesFor(config.Overlap, config.SampleRate)
	if overlap >= extract {
		overlap = extract - 1
	}

	return &Segmenter{
		config:          config,
		buffer:          buffer,
		detector:        detector,
		state:           StateIdle,
		decisionSamples: SamplesFor(config.DecisionWindow, config.SampleRate),
		extractSamples:  extract,
		overlapSamples:  overlap,
		trimSamples:     SamplesFor(config.SilenceTrim, config.SampleRate),
	}, nil
}

// Push appends normalized samples and returns a window when one is ready.
//
// While idle, silent or rejected decision windows trim the front of the
// buffer. Confirmed speech starts collecting; a window is emitted once a
// full extraction window is buffered, or when collecting and the latest
// decision window is no longer speech. Only the overlap tail survives a
// dispatch.
func (s *Segmenter) Push(samples []float32) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.Append(samples)

	if s.buffer.Len() < s.decisionSamples {
		return nil, nil
	}

	recent := s.buffer.Tail(s.decisionSamples)
	energy := MeanSquare(recent)
	s.decisions++
	s.lastEnergy = energy

	var result vad.Result
	speech := false
	if energy > s.config.SilenceThreshold {
		result = s.detector.Analyze(recent)
		speech = result.IsSpeech
		if !speech {
			s.rejected++
		}
	} else {
		s.silentDecisions++
		result = vad.Result{Energy: energy}
	}

	switch s.state {
	case StateIdle:
		if !speech {
			s.trimSilence()
			return nil, nil
		}
		s.state = StateCollecting
		if s.buffer.Len() >= s.extractSamples {
			return s.dispatch(result), nil
		}

	case StateCollecting:
		if !speech {
			// utterance ended before filling a full window
			return s.dispatch(result), nil
		}
		if s.buffer.Len() >= s.extractSamples {
			return s.dispatch(result), nil
		}
	}

	return nil, nil
}

// Flush emits whatever an open utterance has collected, used on shutdown
func (s *Segmenter) Flush() *Window {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCollecting || s.buffer.Len() == 0 {
		return nil
	}
	recent := s.buffer.Tail(s.decisionSamples)
	return s.dispatch(vad.Result{Energy: MeanSquare(recent)})
}

// dispatch copies the most recent extraction window and keeps only the overlap tail
func (s *Segmenter) dispatch(result vad.Result) *Window {
	samples := s.buffer.Tail(s.extractSamples)
	s.buffer.KeepTail(s.overlapSamples)
	s.state = StateIdle

	window := &Window{
		Samples:    samples,
		SampleRate: s.config.SampleRate,
		Decision:   DecisionSpeech,
		Policy:     PolicyWindowed,
		Energy:     MeanSquare(samples),
		Speech:     result,
		CreatedAt:  time.Now(),
	}

	s.windowsCreated++
	s.totalWindowAudio += window.Duration()
	return window
}

// trimSilence drops the oldest silence so the buffer does not fill with it
func (s *Segmenter) trimSilence() {
	if s.buffer.Len() > s.trimSamples {
		s.buffer.TrimFront(s.trimSamples)
	}
}

// Reset drops buffered audio and returns to idle
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.Clear()
	s.state = StateIdle
}

// BufferedSamples returns the number of samples currently held
func (s *Segmenter) BufferedSamples() int {
	return s.buffer.Len()
}

// MaxSamples returns the buffer bound in samples
func (s *Segmenter) MaxSamples() int {
	return s.buffer.Capacity()
}

// IsIdle returns whether the segmenter is waiting for speech
func (s *Segmenter) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateIdle
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	avgDuration := float64(0)
	if s.windowsCreated > 0 {
		avgDuration = s.totalWindowAudio.Seconds() / float64(s.windowsCreated)
	}

	return SegmenterStats{
		State:           s.state.String(),
		Decisions:       s.decisions,
		SilentDecisions: s.silentDecisions,
		Rejected:        s.rejected,
		WindowsCreated:  s.windowsCreated,
		AvgWindowSec:    avgDuration,
		LastEnergy:      s.lastEnergy,
		Buffer:          s.buffer.GetStats(),
	}
}
