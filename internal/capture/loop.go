package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
	"github.com/skypro1111/loopback-transcriber/internal/metrics"
)

// LoopConfig configures the capture loop
type LoopConfig struct {
	FramesPerRead int // device frames per blocking read, defaults to one second
	MaxReopens    int // reopen attempts per session after a read failure
}

// Loop reads blocks from the device and hands copies to the consumer
type Loop struct {
	device  DeviceDescriptor
	opener  Opener
	config  LoopConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Statistics
	framesRead    uint64
	framesDropped uint64
	overflows     uint64
	reopens       uint64
	lastRead      time.Time

	mu sync.RWMutex
}

// LoopStats represents capture loop statistics
type LoopStats struct {
	Device        DeviceDescriptor `json:"device"`
	FramesRead    uint64           `json:"frames_read"`
	FramesDropped uint64           `json:"frames_dropped"`
	Overflows     uint64           `json:"overflows"`
	Reopens       uint64           `json:"reopens"`
	LastRead      time.Time        `json:"last_read"`
}

// NewLoop creates a capture loop for device
func NewLoop(device DeviceDescriptor, opener Opener, config LoopConfig, m *metrics.Metrics, logger *slog.Logger) *Loop {
	if config.FramesPerRead <= 0 {
		config.FramesPerRead = device.SampleRate
	}
	if config.MaxReopens < 0 {
		config.MaxReopens = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		device:  device,
		opener:  opener,
		config:  config,
		metrics: m,
		logger:  logger,
	}
}

// Run captures until ctx is done or the device fails for good. Frames are
// sent without blocking; a frame the consumer has no room for is dropped.
// It returns nil on cancellation and a *DeviceError otherwise.
func (l *Loop) Run(ctx context.Context, out chan<- audio.Frame) error {
	stream, err := l.opener.Open(l.device, l.config.FramesPerRead)
	if err != nil {
		return &DeviceError{Op: "open", Device: l.device.Name, Err: err}
	}
	defer func() {
		if stream != nil {
			if err := stream.Close(); err != nil {
				l.logger.Debug("Capture stream close failed", slog.String("error", err.Error()))
			}
		}
	}()

	l.logger.Info("Capture started",
		slog.String("device", l.device.Name),
		slog.Int("frames_per_read", l.config.FramesPerRead))

	reopens := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		samples, err := stream.Read()
		if errors.Is(err, ErrOverflow) {
			l.mu.Lock()
			l.overflows++
			l.mu.Unlock()
			l.logger.Warn("Capture input overflowed", slog.String("device", l.device.Name))
			err = nil
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			stream.Close()
			stream = nil

			if reopens >= l.config.MaxReopens {
				return &DeviceError{Op: "read", Device: l.device.Name, Err: err}
			}
			reopens++
			l.metrics.RecordDeviceReopen()
			l.mu.Lock()
			l.reopens++
			l.mu.Unlock()

			l.logger.Warn("Capture read failed, reopening device",
				slog.String("device", l.device.Name),
				slog.String("error", err.Error()),
				slog.Int("attempt", reopens))

			stream, err = l.opener.Open(l.device, l.config.FramesPerRead)
			if err != nil {
				stream = nil
				return &DeviceError{Op: "reopen", Device: l.device.Name, Err: err}
			}
			continue
		}

		frame := audio.Frame{
			Samples:    samples,
			SampleRate: l.device.SampleRate,
			Channels:   l.device.Channels,
			Captured:   time.Now(),
		}

		select {
		case out <- frame:
			l.metrics.RecordFrameCaptured()
			l.mu.Lock()
			l.framesRead++
			l.lastRead = frame.Captured
			l.mu.Unlock()
		default:
			l.metrics.RecordFrameDropped()
			l.mu.Lock()
			l.framesDropped++
			l.mu.Unlock()
			l.logger.Debug("Dropped capture frame, processing is behind")
		}
	}
}

// Device returns the device being captured
func (l *Loop) Device() DeviceDescriptor {
	return l.device
}

// GetStats returns current capture statistics
func (l *Loop) GetStats() LoopStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LoopStats{
		Device:        l.device,
		FramesRead:    l.framesRead,
		FramesDropped: l.framesDropped,
		Overflows:     l.overflows,
		Reopens:       l.reopens,
		LastRead:      l.lastRead,
	}
}
