package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
	"github.com/skypro1111/loopback-transcriber/internal/enhance"
	"github.com/skypro1111/loopback-transcriber/internal/events"
	"github.com/skypro1111/loopback-transcriber/internal/metrics"
	"github.com/skypro1111/loopback-transcriber/internal/stream"
)

// Source produces captured frames until ctx is done or the device fails
type Source interface {
	Run(ctx context.Context, out chan<- audio.Frame) error
}

// Deliverer hands an enhanced window to a batch engine
type Deliverer interface {
	Deliver(ctx context.Context, window audio.Window) error
}

// Streamer accepts PCM16 chunks on an open streaming connection
type Streamer interface {
	Send(chunk []byte) error
	Failed() <-chan struct{}
	Err() error
}

// Config contains pipeline tuning
type Config struct {
	QueueSize    int           // captured frames buffered between capture and processing
	MinPeak      float64       // enhanced windows quieter than this are skipped
	FlushTimeout time.Duration // bound on delivering an open utterance at shutdown
}

// DefaultConfig returns the standard pipeline settings
func DefaultConfig() Config {
	return Config{
		QueueSize:    8,
		MinPeak:      0.01,
		FlushTimeout: 10 * time.Second,
	}
}

// Deps are the components a Runner drives. Exactly one of the batch path
// (Segmenter, Enhancer, Batch) or the streaming path (Framer, Streaming)
// must be set.
type Deps struct {
	Source    Source
	Segmenter *audio.Segmenter
	Enhancer  *enhance.Enhancer
	Batch     Deliverer
	Framer    *audio.Framer
	Streaming Streamer
	Emitter   *events.Emitter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Runner runs one capture session
type Runner struct {
	config Config
	deps   Deps
	logger *slog.Logger

	stats     RunnerStats
	startTime time.Time
	mu        sync.RWMutex
}

// RunnerStats represents pipeline statistics
type RunnerStats struct {
	Mode              string        `json:"mode"`
	FramesProcessed   uint64        `json:"frames_processed"`
	NormalizeErrors   uint64        `json:"normalize_errors"`
	WindowsDispatched uint64        `json:"windows_dispatched"`
	WindowsSkipped    uint64        `json:"windows_skipped"`
	DeliveryErrors    uint64        `json:"delivery_errors"`
	ChunksSent        uint64        `json:"chunks_sent"`
	ChunksAbandoned   uint64        `json:"chunks_abandoned"`
	Uptime            time.Duration `json:"uptime"`
}

// NewRunner validates the wiring and creates a runner
func NewRunner(config Config, deps Deps) (*Runner, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("capture source is required")
	}
	if deps.Emitter == nil {
		return nil, fmt.Errorf("event emitter is required")
	}

	batch := deps.Batch != nil
	streaming := deps.Streaming != nil
	switch {
	case batch && streaming:
		return nil, fmt.Errorf("batch and streaming delivery are mutually exclusive")
	case batch:
		if deps.Segmenter == nil || deps.Enhancer == nil {
			return nil, fmt.Errorf("batch delivery requires a segmenter and an enhancer")
		}
	case streaming:
		if deps.Framer == nil {
			return nil, fmt.Errorf("streaming delivery requires a framer")
		}
	default:
		return nil, fmt.Errorf("no delivery path configured")
	}

	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.MinPeak < 0 {
		config.MinPeak = defaults.MinPeak
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = defaults.FlushTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{config: config, deps: deps, logger: logger}
	r.stats.Mode = "batch"
	if streaming {
		r.stats.Mode = "streaming"
	}
	return r, nil
}

// Run processes audio until ctx is cancelled (returns nil), the capture
// device fails (returns its *capture.DeviceError) or the streaming
// connection fails
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()

	frames := make(chan audio.Frame, r.config.QueueSize)
	captureDone := make(chan error, 1)
	go func() {
		captureDone <- r.deps.Source.Run(ctx, frames)
	}()

	var failed <-chan struct{}
	if r.deps.Streaming != nil {
		failed = r.deps.Streaming.Failed()
	}

	r.logger.Info("Pipeline started", slog.String("mode", r.stats.Mode))

	for {
		select {
		case <-ctx.Done():
			<-captureDone
			r.flush(ctx)
			r.logger.Info("Pipeline stopped")
			return nil

		case err := <-captureDone:
			if err != nil {
				r.logger.Error("Capture failed", slog.String("error", err.Error()))
				return err
			}
			r.flush(ctx)
			return nil

		case <-failed:
			cancel()
			<-captureDone
			return fmt.Errorf("streaming connection failed: %w", r.deps.Streaming.Err())

		case frame := <-frames:
			r.process(ctx, frame)
		}
	}
}

func (r *Runner) process(ctx context.Context, frame audio.Frame) {
	mono, err := audio.Normalize(frame, audio.TargetSampleRate)
	if err != nil {
		r.mu.Lock()
		r.stats.NormalizeErrors++
		r.mu.Unlock()
		r.logger.Warn("Dropping frame that could not be normalized", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	r.stats.FramesProcessed++
	r.mu.Unlock()

	if r.deps.Streaming != nil {
		r.sendChunks(mono)
		return
	}
	r.segment(ctx, mono)
}

// segment feeds the segmenter and delivers any window it releases
func (r *Runner) segment(ctx context.Context, mono []float32) {
	before := r.deps.Segmenter.GetStats()
	window, err := r.deps.Segmenter.Push(mono)
	after := r.deps.Segmenter.GetStats()

	if err != nil {
		r.logger.Warn("Segmenter rejected frame", slog.String("error", err.Error()))
		return
	}

	decisions := after.Decisions - before.Decisions
	speech := decisions - (after.SilentDecisions - before.SilentDecisions) - (after.Rejected - before.Rejected)
	for i := uint64(0); i < decisions; i++ {
		r.deps.Metrics.RecordDecision(i < speech)
	}
	if decisions > 0 {
		r.deps.Emitter.Debug("Energy %.6f (%s)", after.LastEnergy, after.State)
	}

	if window == nil {
		return
	}
	r.deps.Metrics.RecordDetectorTime(window.Speech.ProcessingTime.Seconds())
	r.deliver(ctx, *window)
}

// deliver enhances a window and hands it to the batch engine
func (r *Runner) deliver(ctx context.Context, window audio.Window) {
	enhanced, report := r.deps.Enhancer.Enhance(window.Samples)

	var failed []string
	for _, stage := range report.Failures() {
		failed = append(failed, stage.Name)
		r.deps.Emitter.Debug("Enhancement stage %s degraded: %v", stage.Name, stage.Err)
	}
	r.deps.Metrics.RecordEnhancement(report.Duration.Seconds(), failed)

	if report.Peak < r.config.MinPeak {
		r.mu.Lock()
		r.stats.WindowsSkipped++
		r.mu.Unlock()
		r.deps.Metrics.RecordWindowSkipped()
		r.deps.Emitter.Debug("Skipping quiet window (peak %.4f)", report.Peak)
		return
	}

	window.Samples = enhanced
	r.deps.Metrics.RecordWindowDispatched(window.Duration().Seconds())
	r.mu.Lock()
	r.stats.WindowsDispatched++
	r.mu.Unlock()

	r.deps.Emitter.Debug("Dispatching %.2fs window (peak %.3f, energy %.6f)",
		window.Duration().Seconds(), report.Peak, window.Energy)

	if err := r.deps.Batch.Deliver(ctx, window); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.mu.Lock()
		r.stats.DeliveryErrors++
		r.mu.Unlock()
		r.logger.Error("Transcription failed", slog.String("error", err.Error()))
		r.deps.Emitter.Error(err)
	}
}

// sendChunks cuts fixed chunks and sends them as PCM16
func (r *Runner) sendChunks(mono []float32) {
	for _, chunk := range r.deps.Framer.Push(mono) {
		pcm := audio.ToPCM16(chunk.Samples)

		if err := r.deps.Streaming.Send(pcm); err != nil {
			r.mu.Lock()
			r.stats.ChunksAbandoned++
			r.mu.Unlock()

			switch {
			case errors.Is(err, stream.ErrNotOpen):
				r.logger.Debug("Chunk abandoned, connection not open")
			case errors.Is(err, stream.ErrTransientSend):
				r.logger.Warn("Chunk send failed", slog.String("error", err.Error()))
				r.deps.Emitter.Debug("Send failed: %v", err)
			default:
				r.logger.Warn("Unexpected send error", slog.String("error", err.Error()))
			}
			continue
		}

		r.mu.Lock()
		r.stats.ChunksSent++
		sent := r.stats.ChunksSent
		r.mu.Unlock()

		if sent <= 5 || sent%100 == 0 {
			r.deps.Emitter.Debug("Sent chunk #%d (%d bytes, energy %.6f, %s)",
				sent, len(pcm), chunk.Energy, chunk.Decision)
		}
	}
}

// flush delivers an utterance still open at shutdown
func (r *Runner) flush(ctx context.Context) {
	if r.deps.Segmenter == nil {
		return
	}
	window := r.deps.Segmenter.Flush()
	if window == nil {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.FlushTimeout)
	defer cancel()
	r.logger.Debug("Flushing open utterance", slog.Duration("duration", window.Duration()))
	r.deliver(flushCtx, *window)
}

// GetStats returns current pipeline statistics
func (r *Runner) GetStats() RunnerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := r.stats
	if !r.startTime.IsZero() {
		stats.Uptime = time.Since(r.startTime)
	}
	return stats
}
