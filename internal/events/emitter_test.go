package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, data string) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("Line is not valid JSON: %q: %v", scanner.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestEmitterEventShapes(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewEmitter(&buf, true)

	emitter.Ready("base", "whisper", false)
	emitter.Status("Capturing from %s", "Speakers [Loopback]")
	emitter.Debug("energy=%.4f", 0.0123)
	emitter.Error(errors.New("device lost"))
	emitter.Transcription(Transcription{
		ID:         "abc",
		Text:       "hello world",
		Confidence: 0.9,
		Final:      true,
		Words:      []Word{{Word: "hello", Start: 0, End: 0.4, Probability: 0.95}},
	})

	lines := decodeLines(t, buf.String())
	if len(lines) != 5 {
		t.Fatalf("Expected 5 lines, got %d", len(lines))
	}

	tests := []struct {
		index int
		key   string
		value any
	}{
		{0, "type", TypeReady},
		{0, "model", "base"},
		{0, "engine", "whisper"},
		{1, "type", TypeStatus},
		{1, "message", "Capturing from Speakers [Loopback]"},
		{2, "type", TypeDebug},
		{2, "message", "energy=0.0123"},
		{3, "type", TypeError},
		{3, "error", "device lost"},
		{4, "type", TypeTranscription},
		{4, "id", "abc"},
		{4, "text", "hello world"},
		{4, "final", true},
	}
	for _, tt := range tests {
		if got := lines[tt.index][tt.key]; got != tt.value {
			t.Errorf("Line %d key %s: expected %v, got %v", tt.index, tt.key, tt.value, got)
		}
	}

	if _, ok := lines[0]["fallback"]; ok {
		t.Error("Expected fallback to be omitted when false")
	}
	words, ok := lines[4]["words"].([]any)
	if !ok || len(words) != 1 {
		t.Errorf("Expected one word, got %v", lines[4]["words"])
	}
}

func TestEmitterDebugDisabled(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewEmitter(&buf, false)

	emitter.Debug("hidden")
	emitter.Status("shown")

	lines := decodeLines(t, buf.String())
	if len(lines) != 1 || lines[0]["type"] != TypeStatus {
		t.Errorf("Expected only the status event, got %v", lines)
	}
}

func TestEmitterConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewEmitter(&buf, true)

	var observed int
	emitter.SetObserver(func(string) { observed++ })

	const producers = 16
	const perProducer = 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				emitter.Transcription(Transcription{
					ID:   "id",
					Text: strings.Repeat("word ", 50),
				})
				emitter.Debug("producer %d event %d", p, i)
			}
		}(p)
	}
	wg.Wait()

	lines := decodeLines(t, buf.String())
	if len(lines) != producers*perProducer*2 {
		t.Fatalf("Expected %d lines, got %d", producers*perProducer*2, len(lines))
	}
	if observed != len(lines) {
		t.Errorf("Expected observer to see %d events, got %d", len(lines), observed)
	}
	if stats := emitter.GetStats(); stats.EventsWritten != uint64(len(lines)) {
		t.Errorf("Expected %d written, got %d", len(lines), stats.EventsWritten)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestEmitterWriteFailure(t *testing.T) {
	emitter := NewEmitter(failingWriter{}, true)

	if err := emitter.Status("hello"); err == nil {
		t.Error("Expected write error")
	}
	if stats := emitter.GetStats(); stats.WriteFailures != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.WriteFailures)
	}
}

func TestEmitterFlushes(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	emitter := NewEmitter(w, true)

	emitter.Status("flushed")
	if !strings.Contains(buf.String(), "flushed") {
		t.Error("Expected event to be flushed through the buffered writer")
	}
}
