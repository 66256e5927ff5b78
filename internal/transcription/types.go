package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Engine names accepted in configuration
const (
	EngineWhisper  = "whisper"
	EngineOpenAI   = "openai"
	EngineHTTP     = "http"
	EngineDeepgram = "deepgram"
)

var (
	// ErrProtocol marks a backend message that could not be understood
	ErrProtocol = errors.New("malformed backend message")
	// ErrEmptyAudio is returned when a window carries no samples
	ErrEmptyAudio = errors.New("empty audio")
)

// BackendInitError reports that an engine could not be brought up
type BackendInitError struct {
	Engine string
	Model  string
	Err    error
}

func (e *BackendInitError) Error() string {
	return fmt.Sprintf("failed to initialize %s engine with model %q: %v", e.Engine, e.Model, e.Err)
}

func (e *BackendInitError) Unwrap() error {
	return e.Err
}

// Audio is a mono window handed to a batch engine
type Audio struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the span of audio
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

// Word is a single timed word
type Word struct {
	Text        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Transcript is the engine-neutral recognition result
type Transcript struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Language   string        `json:"language,omitempty"`
	Words      []Word        `json:"words,omitempty"`
	Final      bool          `json:"final"`
	Latency    time.Duration `json:"latency"`
}

// BatchTranscriber transcribes discrete windows
type BatchTranscriber interface {
	Name() string
	Model() string
	// Probe checks that the engine is usable before audio starts flowing
	Probe(ctx context.Context) error
	Transcribe(ctx context.Context, audio Audio) (Transcript, error)
}

// Listener receives streaming results. Callbacks run on the connection's
// reader goroutine and must not block.
type Listener interface {
	OnOpen()
	OnTranscript(t Transcript)
	OnProtocolError(err error)
	OnError(err error)
	OnClose()
}

// Connection is an open streaming session
type Connection interface {
	// Send writes one binary audio frame
	Send(frame []byte) error
	// Close finalizes the stream and waits for the backend to hang up
	Close(ctx context.Context) error
}

// StreamingTranscriber opens persistent streaming sessions
type StreamingTranscriber interface {
	Name() string
	Model() string
	Open(ctx context.Context, listener Listener) (Connection, error)
}

// silenceProbe transcribes one second of silence, used by engines that have
// no cheaper readiness check
func silenceProbe(ctx context.Context, t BatchTranscriber, sampleRate int) error {
	_, err := t.Transcribe(ctx, Audio{Samples: make([]float32, sampleRate), SampleRate: sampleRate})
	return err
}
