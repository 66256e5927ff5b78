package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
	"github.com/skypro1111/loopback-transcriber/internal/events"
	"github.com/skypro1111/loopback-transcriber/internal/metrics"
	"github.com/skypro1111/loopback-transcriber/internal/transcription"
)

// MinTextLength is the shortest result text forwarded to the host
const MinTextLength = 3

// BatchAdapter sends dispatched windows to a batch engine and forwards
// results as final transcription events
type BatchAdapter struct {
	engine  transcription.BatchTranscriber
	emitter *events.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Statistics
	windowsSent     uint64
	resultsEmitted  uint64
	resultsFiltered uint64
	failures        uint64
	lastLatency     time.Duration

	mu sync.Mutex
}

// BatchStats represents batch adapter statistics
type BatchStats struct {
	Engine          string        `json:"engine"`
	Model           string        `json:"model"`
	WindowsSent     uint64        `json:"windows_sent"`
	ResultsEmitted  uint64        `json:"results_emitted"`
	ResultsFiltered uint64        `json:"results_filtered"`
	Failures        uint64        `json:"failures"`
	LastLatency     time.Duration `json:"last_latency"`
}

// NewBatchAdapter creates a batch adapter
func NewBatchAdapter(engine transcription.BatchTranscriber, emitter *events.Emitter,
	m *metrics.Metrics, logger *slog.Logger) *BatchAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchAdapter{
		engine:  engine,
		emitter: emitter,
		metrics: m,
		logger:  logger,
	}
}

// Engine returns the wrapped engine
func (b *BatchAdapter) Engine() transcription.BatchTranscriber {
	return b.engine
}

// Deliver transcribes one window. Results shorter than MinTextLength are
// dropped; engine errors are returned for the caller to report.
func (b *BatchAdapter) Deliver(ctx context.Context, window audio.Window) error {
	start := time.Now()
	b.metrics.RecordTranscriptionRequest()

	b.mu.Lock()
	b.windowsSent++
	b.mu.Unlock()

	transcript, err := b.engine.Transcribe(ctx, transcription.Audio{
		Samples:    window.Samples,
		SampleRate: window.SampleRate,
	})
	elapsed := time.Since(start)
	if err != nil {
		b.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		b.mu.Lock()
		b.failures++
		b.mu.Unlock()
		return fmt.Errorf("%s transcription failed: %w", b.engine.Name(), err)
	}
	b.metrics.RecordTranscriptionSuccess(elapsed.Seconds())

	b.mu.Lock()
	b.lastLatency = elapsed
	b.mu.Unlock()

	if len(transcript.Text) < MinTextLength {
		b.mu.Lock()
		b.resultsFiltered++
		b.mu.Unlock()
		b.emitter.Debug("Dropped short result %q", transcript.Text)
		return nil
	}

	event := events.Transcription{
		ID:         uuid.NewString(),
		Text:       transcript.Text,
		Confidence: transcript.Confidence,
		Final:      true,
	}
	for _, w := range transcript.Words {
		event.Words = append(event.Words, events.Word{
			Word:        w.Text,
			Start:       w.Start,
			End:         w.End,
			Probability: w.Probability,
		})
	}

	if err := b.emitter.Transcription(event); err != nil {
		return err
	}

	b.mu.Lock()
	b.resultsEmitted++
	b.mu.Unlock()

	b.logger.Debug("Window transcribed",
		slog.Duration("window", window.Duration()),
		slog.Duration("latency", elapsed),
		slog.Int("text_length", len(transcript.Text)))
	return nil
}

// GetStats returns current adapter statistics
func (b *BatchAdapter) GetStats() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BatchStats{
		Engine:          b.engine.Name(),
		Model:           b.engine.Model(),
		WindowsSent:     b.windowsSent,
		ResultsEmitted:  b.resultsEmitted,
		ResultsFiltered: b.resultsFiltered,
		Failures:        b.failures,
		LastLatency:     b.lastLatency,
	}
}
