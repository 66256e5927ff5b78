package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Event types written to the host
const (
	TypeReady         = "ready"
	TypeStatus        = "status"
	TypeDebug         = "debug"
	TypeError         = "error"
	TypeTranscription = "transcription"
)

// Ready announces that capture and the engine are live
type Ready struct {
	Type     string `json:"type"`
	Model    string `json:"model"`
	Engine   string `json:"engine"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Message carries status and debug text
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error reports a failure to the host
type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Word is a single timed word in a transcription
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Transcription carries recognized text. Interim and final results for the
// same utterance share an ID; a final result replaces earlier interim ones.
type Transcription struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
	Words      []Word  `json:"words,omitempty"`
}

// Flusher is implemented by buffered writers
type Flusher interface {
	Flush() error
}

// Observer is notified after each event is written
type Observer func(eventType string)

// Emitter writes one JSON object per line. Each line is written and flushed
// under a single lock so concurrent producers never interleave.
type Emitter struct {
	w        io.Writer
	debug    bool
	observer Observer

	written uint64
	failed  uint64

	mu sync.Mutex
}

// EmitterStats represents emitter statistics
type EmitterStats struct {
	EventsWritten uint64 `json:"events_written"`
	WriteFailures uint64 `json:"write_failures"`
}

// NewEmitter creates an emitter over w. Debug events are dropped when debug is false.
func NewEmitter(w io.Writer, debug bool) *Emitter {
	return &Emitter{w: w, debug: debug}
}

// SetObserver registers a callback invoked after each successful write
func (e *Emitter) SetObserver(observer Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = observer
}

// Ready emits a ready event
func (e *Emitter) Ready(model, engine string, fallback bool) error {
	return e.emit(TypeReady, Ready{Type: TypeReady, Model: model, Engine: engine, Fallback: fallback})
}

// Status emits a status message
func (e *Emitter) Status(format string, args ...any) error {
	return e.emit(TypeStatus, Message{Type: TypeStatus, Message: fmt.Sprintf(format, args...)})
}

// Debug emits a debug message when debug events are enabled
func (e *Emitter) Debug(format string, args ...any) error {
	if !e.debug {
		return nil
	}
	return e.emit(TypeDebug, Message{Type: TypeDebug, Message: fmt.Sprintf(format, args...)})
}

// Error emits an error event
func (e *Emitter) Error(err error) error {
	return e.emit(TypeError, Error{Type: TypeError, Error: err.Error()})
}

// Transcription emits a transcription event
func (e *Emitter) Transcription(t Transcription) error {
	t.Type = TypeTranscription
	return e.emit(TypeTranscription, t)
}

func (e *Emitter) emit(eventType string, event any) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(line); err != nil {
		e.failed++
		return fmt.Errorf("failed to write %s event: %w", eventType, err)
	}
	if f, ok := e.w.(Flusher); ok {
		if err := f.Flush(); err != nil {
			e.failed++
			return fmt.Errorf("failed to flush %s event: %w", eventType, err)
		}
	}
	e.written++
	if e.observer != nil {
		e.observer(eventType)
	}
	return nil
}

// GetStats returns current emitter statistics
func (e *Emitter) GetStats() EmitterStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EmitterStats{EventsWritten: e.written, WriteFailures: e.failed}
}
