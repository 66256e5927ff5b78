package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
	"github.com/skypro1111/loopback-transcriber/internal/events"
	"github.com/skypro1111/loopback-transcriber/internal/metrics"
	"github.com/skypro1111/loopback-transcriber/internal/transcription"
)

var (
	// ErrNotOpen is returned by Send outside OpenIdle and OpenStreaming
	ErrNotOpen = errors.New("streaming connection is not open")
	// ErrTransientSend wraps a failed write of a single chunk
	ErrTransientSend = errors.New("transient send failure")
)

// AdapterConfig configures the streaming connection lifecycle
type AdapterConfig struct {
	OpenTimeout       time.Duration
	CloseTimeout      time.Duration
	KeepaliveDelay    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveSamples  int // samples of PCM16 silence per keepalive
}

// DefaultAdapterConfig returns the standard timings: 100ms of 16kHz silence
// every 500ms after a 300ms settle delay
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		OpenTimeout:       5 * time.Second,
		CloseTimeout:      3 * time.Second,
		KeepaliveDelay:    300 * time.Millisecond,
		KeepaliveInterval: 500 * time.Millisecond,
		KeepaliveSamples:  1600,
	}
}

// StreamingAdapter drives one streaming session. Send and the keepalive
// share sendMu; the first real Send closes streaming while holding it, and
// the keepalive checks streaming under the same lock before each write, so
// no keepalive is ever written after real audio.
type StreamingAdapter struct {
	engine  transcription.StreamingTranscriber
	emitter *events.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	config  AdapterConfig

	mu          sync.Mutex
	state       State
	conn        transcription.Connection
	err         error
	utteranceID string

	sendMu        sync.Mutex
	streaming     chan struct{}
	streamingOnce sync.Once

	opened   chan struct{}
	openOnce sync.Once
	failed   chan struct{}
	failOnce sync.Once
	stopping chan struct{}
	stopOnce sync.Once

	keepaliveDone chan struct{}

	// Statistics
	chunksSent      uint64
	keepalivesSent  uint64
	transientErrors uint64
	interimResults  uint64
	finalResults    uint64
	protocolErrors  uint64
}

// AdapterStats represents streaming adapter statistics
type AdapterStats struct {
	State           string `json:"state"`
	ChunksSent      uint64 `json:"chunks_sent"`
	KeepalivesSent  uint64 `json:"keepalives_sent"`
	TransientErrors uint64 `json:"transient_errors"`
	InterimResults  uint64 `json:"interim_results"`
	FinalResults    uint64 `json:"final_results"`
	ProtocolErrors  uint64 `json:"protocol_errors"`
}

// NewStreamingAdapter creates an adapter in the Disconnected state
func NewStreamingAdapter(engine transcription.StreamingTranscriber, emitter *events.Emitter,
	m *metrics.Metrics, logger *slog.Logger, config AdapterConfig) *StreamingAdapter {

	defaults := DefaultAdapterConfig()
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = defaults.CloseTimeout
	}
	if config.KeepaliveDelay < 0 {
		config.KeepaliveDelay = defaults.KeepaliveDelay
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = defaults.KeepaliveInterval
	}
	if config.KeepaliveSamples <= 0 {
		config.KeepaliveSamples = defaults.KeepaliveSamples
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamingAdapter{
		engine:        engine,
		emitter:       emitter,
		metrics:       m,
		logger:        logger,
		config:        config,
		state:         StateDisconnected,
		streaming:     make(chan struct{}),
		opened:        make(chan struct{}),
		failed:        make(chan struct{}),
		stopping:      make(chan struct{}),
		keepaliveDone: make(chan struct{}),
	}
}

// Start opens the connection and waits for the backend to acknowledge it.
// On success the adapter is OpenIdle and the keepalive is running.
func (a *StreamingAdapter) Start(ctx context.Context) error {
	if err := a.transition(StateConnecting); err != nil {
		return err
	}

	openCtx, cancel := context.WithTimeout(ctx, a.config.OpenTimeout)
	defer cancel()

	conn, err := a.engine.Open(openCtx, adapterListener{a})
	if err != nil {
		return a.initFailed(err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	select {
	case <-a.opened:
	case <-a.failed:
		a.closeQuietly(conn)
		return a.initFailed(a.Err())
	case <-openCtx.Done():
		a.closeQuietly(conn)
		return a.initFailed(fmt.Errorf("connection not acknowledged within %v: %w", a.config.OpenTimeout, openCtx.Err()))
	}

	if err := a.transition(StateOpenIdle); err != nil {
		a.closeQuietly(conn)
		return a.initFailed(err)
	}

	go a.keepalive(ctx)

	a.logger.Info("Streaming connection open",
		slog.String("engine", a.engine.Name()),
		slog.String("model", a.engine.Model()))
	return nil
}

// Send writes one PCM16 chunk. The first call flips the adapter to
// OpenStreaming and stops the keepalive for good.
func (a *StreamingAdapter) Send(chunk []byte) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	state := a.state
	conn := a.conn
	a.mu.Unlock()

	if !state.CanSend() {
		return ErrNotOpen
	}

	a.streamingOnce.Do(func() {
		close(a.streaming)
		if err := a.transition(StateOpenStreaming); err != nil {
			a.logger.Debug("Streaming transition skipped", slog.String("error", err.Error()))
		}
	})

	if err := conn.Send(chunk); err != nil {
		a.mu.Lock()
		a.transientErrors++
		a.mu.Unlock()
		a.metrics.RecordTransientError()
		return fmt.Errorf("%w: %v", ErrTransientSend, err)
	}

	a.mu.Lock()
	a.chunksSent++
	a.mu.Unlock()
	a.metrics.RecordChunkSent()
	return nil
}

// Stop closes the connection gracefully. It waits for an in-flight send,
// after which every Send returns ErrNotOpen.
func (a *StreamingAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	switch {
	case state == StateDisconnected:
		return a.transition(StateClosed)
	case state == StateClosing || state == StateClosed:
		return nil
	case state == StateFailed:
		a.stopOnce.Do(func() { close(a.stopping) })
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn != nil {
			a.closeQuietly(conn)
		}
		return nil
	}

	if err := a.transition(StateClosing); err != nil {
		return err
	}
	a.stopOnce.Do(func() { close(a.stopping) })

	// wait for the in-flight send to finish
	a.sendMu.Lock()
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	a.sendMu.Unlock()

	if state != StateConnecting {
		<-a.keepaliveDone
	}

	closeCtx, cancel := context.WithTimeout(ctx, a.config.CloseTimeout)
	defer cancel()

	var err error
	if conn != nil {
		err = conn.Close(closeCtx)
	}

	a.mu.Lock()
	if a.state == StateClosing {
		a.setStateLocked(StateClosed)
	}
	a.mu.Unlock()

	a.logger.Info("Streaming connection closed",
		slog.Uint64("chunks_sent", a.GetStats().ChunksSent))
	if err != nil {
		return fmt.Errorf("failed to close streaming connection: %w", err)
	}
	return nil
}

// State returns the current lifecycle state
func (a *StreamingAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CanSend reports whether Send would currently be attempted
func (a *StreamingAdapter) CanSend() bool {
	return a.State().CanSend()
}

// Failed is closed when the connection fails after or during Start
func (a *StreamingAdapter) Failed() <-chan struct{} {
	return a.failed
}

// Err returns the failure cause once Failed is closed
func (a *StreamingAdapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// GetStats returns current adapter statistics
func (a *StreamingAdapter) GetStats() AdapterStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AdapterStats{
		State:           a.state.String(),
		ChunksSent:      a.chunksSent,
		KeepalivesSent:  a.keepalivesSent,
		TransientErrors: a.transientErrors,
		InterimResults:  a.interimResults,
		FinalResults:    a.finalResults,
		ProtocolErrors:  a.protocolErrors,
	}
}

// keepalive sends silence while the connection is OpenIdle
func (a *StreamingAdapter) keepalive(ctx context.Context) {
	defer close(a.keepaliveDone)

	delay := time.NewTimer(a.config.KeepaliveDelay)
	defer delay.Stop()

	select {
	case <-delay.C:
	case <-a.streaming:
		return
	case <-a.stopping:
		return
	case <-ctx.Done():
		return
	}

	silence := audio.SilencePCM16(a.config.KeepaliveSamples)
	ticker := time.NewTicker(a.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		if !a.sendKeepalive(silence) {
			return
		}

		select {
		case <-ticker.C:
		case <-a.streaming:
			return
		case <-a.stopping:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sendKeepalive writes one silence chunk and reports whether the keepalive
// should keep running
func (a *StreamingAdapter) sendKeepalive(silence []byte) bool {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	select {
	case <-a.streaming:
		return false
	default:
	}

	a.mu.Lock()
	state := a.state
	conn := a.conn
	a.mu.Unlock()
	if state != StateOpenIdle {
		return false
	}

	if err := conn.Send(silence); err != nil {
		a.logger.Debug("Keepalive send failed", slog.String("error", err.Error()))
		a.metrics.RecordTransientError()
		return true
	}

	a.mu.Lock()
	a.keepalivesSent++
	n := a.keepalivesSent
	a.mu.Unlock()
	a.metrics.RecordKeepalive()

	if n%4 == 1 {
		a.emitter.Debug("Sent keepalive silence #%d", n)
	}
	return true
}

func (a *StreamingAdapter) transition(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransition(a.state, to) {
		return fmt.Errorf("invalid state transition %s -> %s", a.state, to)
	}
	a.setStateLocked(to)
	return nil
}

func (a *StreamingAdapter) setStateLocked(to State) {
	from := a.state
	a.state = to
	a.metrics.SetConnectionState(int(to))
	a.logger.Debug("Streaming state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

// fail moves to Failed and records the cause. It returns false if the
// adapter was already terminal.
func (a *StreamingAdapter) fail(err error) bool {
	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return false
	}
	a.err = err
	a.setStateLocked(StateFailed)
	a.mu.Unlock()

	a.failOnce.Do(func() { close(a.failed) })
	return true
}

func (a *StreamingAdapter) initFailed(err error) error {
	a.fail(err)
	return &transcription.BackendInitError{
		Engine: a.engine.Name(),
		Model:  a.engine.Model(),
		Err:    err,
	}
}

func (a *StreamingAdapter) closeQuietly(conn transcription.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.CloseTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		a.logger.Debug("Close after failure returned error", slog.String("error", err.Error()))
	}
}

// utterance returns the id for a result and starts a new one after a final
func (a *StreamingAdapter) utterance(final bool) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.utteranceID == "" {
		a.utteranceID = uuid.NewString()
	}
	id := a.utteranceID
	if final {
		a.utteranceID = ""
		a.finalResults++
	} else {
		a.interimResults++
	}
	return id
}

// adapterListener receives connection callbacks on the reader goroutine
type adapterListener struct {
	a *StreamingAdapter
}

func (l adapterListener) OnOpen() {
	l.a.openOnce.Do(func() { close(l.a.opened) })
}

func (l adapterListener) OnTranscript(t transcription.Transcript) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}

	event := events.Transcription{
		ID:         l.a.utterance(t.Final),
		Text:       text,
		Confidence: t.Confidence,
		Final:      t.Final,
	}
	for _, w := range t.Words {
		event.Words = append(event.Words, events.Word{
			Word:        w.Text,
			Start:       w.Start,
			End:         w.End,
			Probability: w.Probability,
		})
	}

	if err := l.a.emitter.Transcription(event); err != nil {
		l.a.logger.Error("Failed to emit transcription", slog.String("error", err.Error()))
	}
}

func (l adapterListener) OnProtocolError(err error) {
	l.a.mu.Lock()
	l.a.protocolErrors++
	l.a.mu.Unlock()

	l.a.logger.Debug("Ignoring backend message", slog.String("error", err.Error()))
	l.a.emitter.Debug("Ignoring backend message: %v", err)
}

func (l adapterListener) OnError(err error) {
	if l.a.fail(err) {
		l.a.logger.Error("Streaming connection failed", slog.String("error", err.Error()))
		l.a.emitter.Error(err)
	}
}

func (l adapterListener) OnClose() {
	l.a.mu.Lock()
	state := l.a.state
	if state == StateClosing {
		l.a.setStateLocked(StateClosed)
	}
	l.a.mu.Unlock()

	if state == StateClosing || state.Terminal() {
		return
	}
	l.OnError(errors.New("streaming connection closed by backend"))
}
