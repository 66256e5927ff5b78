package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
	"github.com/skypro1111/loopback-transcriber/internal/capture"
	"github.com/skypro1111/loopback-transcriber/internal/config"
	"github.com/skypro1111/loopback-transcriber/internal/enhance"
	"github.com/skypro1111/loopback-transcriber/internal/events"
	"github.com/skypro1111/loopback-transcriber/internal/metrics"
	"github.com/skypro1111/loopback-transcriber/internal/pipeline"
	"github.com/skypro1111/loopback-transcriber/internal/server"
	"github.com/skypro1111/loopback-transcriber/internal/stream"
	"github.com/skypro1111/loopback-transcriber/internal/vad"
)

const (
	serviceName    = "loopback-transcriber"
	serviceVersion = "1.0.0"
)

// Process exit codes
const (
	exitOK = iota
	exitConfig
	exitDevice
	exitBackend
	exitRuntime
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	envPath := flag.String("env", ".env", "Path to dotenv file (optional)")
	flag.Parse()

	// stdout carries the event protocol, flushed after every line
	stdout := bufio.NewWriter(os.Stdout)
	defer stdout.Flush()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
		return exitConfig
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		events.NewEmitter(stdout, false).Error(err)
		return exitConfig
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("engine", cfg.Engine.Name),
		slog.String("model", cfg.Engine.Model),
		slog.String("fallback_model", cfg.Engine.FallbackModel),
		slog.String("device", cfg.Audio.Device),
		slog.Int("sample_rate", cfg.Audio.TargetSampleRate),
		slog.Bool("streaming", cfg.IsStreaming()),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	emitter := events.NewEmitter(stdout, cfg.Events.Debug)
	emitter.SetObserver(appMetrics.RecordEvent)

	// Cancelled by SIGINT, SIGTERM or a shutdown command
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Resolve the loopback device
	resolver := capture.NewResolver(capture.PortAudioEnumerator{}, cfg.Audio.Device, logger)
	device, err := resolver.Resolve()
	if err != nil {
		logger.Error("Failed to resolve capture device", slog.String("error", err.Error()))
		emitter.Error(err)
		return exitDevice
	}
	emitter.Status("Capturing from %s (%d Hz, %d channels)", device.Name, device.SampleRate, device.Channels)

	loop := capture.NewLoop(device, capture.PortAudioOpener{}, capture.LoopConfig{
		FramesPerRead: cfg.Audio.FramesPerRead,
		MaxReopens:    cfg.Audio.MaxReopens,
	}, appMetrics, logger)

	components := server.Components{Capture: loop, Emitter: emitter}
	deps := pipeline.Deps{
		Source:  loop,
		Emitter: emitter,
		Metrics: appMetrics,
		Logger:  logger,
	}

	var streaming *stream.StreamingAdapter
	if cfg.IsStreaming() {
		adapter, model, fallback, err := startStreaming(ctx, cfg, emitter, appMetrics, logger)
		if err != nil {
			logger.Error("Failed to start streaming engine", slog.String("error", err.Error()))
			emitter.Error(err)
			return exitBackend
		}
		streaming = adapter
		emitter.Ready(model, cfg.Engine.Name, fallback)

		framer, err := audio.NewFramer(cfg.Audio.TargetSampleRate, cfg.Streaming.GetChunkDuration(), cfg.Segmenter.SilenceThreshold)
		if err != nil {
			logger.Error("Failed to create framer", slog.String("error", err.Error()))
			return exitConfig
		}
		deps.Framer = framer
		deps.Streaming = streaming
		components.Streaming = streaming
	} else {
		engine, fallback, err := initBatchEngine(ctx, cfg, emitter, logger)
		if err != nil {
			logger.Error("Failed to initialize batch engine", slog.String("error", err.Error()))
			emitter.Error(err)
			return exitBackend
		}
		emitter.Ready(engine.Model(), engine.Name(), fallback)

		detector, segmenter, enhancer, err := buildBatchChain(cfg, logger)
		if err != nil {
			logger.Error("Failed to build processing chain", slog.String("error", err.Error()))
			return exitConfig
		}
		batch := stream.NewBatchAdapter(engine, emitter, appMetrics, logger)

		deps.Segmenter = segmenter
		deps.Enhancer = enhancer
		deps.Batch = batch
		components.Detector = detector
		components.Segmenter = segmenter
		components.Enhancer = enhancer
		components.Batch = batch
	}

	runnerConfig := pipeline.DefaultConfig()
	runnerConfig.QueueSize = cfg.Audio.QueueSize
	runnerConfig.MinPeak = cfg.Segmenter.MinPeak
	runner, err := pipeline.NewRunner(runnerConfig, deps)
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		stopStreaming(streaming, logger)
		return exitConfig
	}
	components.Runner = runner

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, appMetrics, prometheus.DefaultGatherer)
		httpServer.SetComponents(components)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			stopStreaming(streaming, logger)
			return exitConfig
		}
	}

	// Host commands on stdin; EOF only ends the reader
	go func() {
		if err := events.ReadCommands(ctx, os.Stdin, emitter, cancel); err != nil {
			logger.Debug("Command reader stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Service started successfully",
		slog.String("device", device.Name),
		slog.String("mode", runner.GetStats().Mode),
	)

	runErr := runner.Run(ctx)

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	stopStreaming(streaming, logger)

	// Get final statistics
	stats := runner.GetStats()
	logger.Info("Final pipeline statistics",
		slog.String("mode", stats.Mode),
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("windows_dispatched", stats.WindowsDispatched),
		slog.Uint64("windows_skipped", stats.WindowsSkipped),
		slog.Uint64("chunks_sent", stats.ChunksSent),
		slog.Duration("uptime", stats.Uptime),
	)

	if runErr != nil {
		logger.Error("Pipeline stopped with error", slog.String("error", runErr.Error()))
		emitter.Error(runErr)

		var deviceErr *capture.DeviceError
		if errors.As(runErr, &deviceErr) {
			return exitDevice
		}
		return exitRuntime
	}

	emitter.Status("Stopped")
	logger.Info("Service stopped")
	return exitOK
}

// buildBatchChain creates the detector, segmenter and enhancer for windowed delivery
func buildBatchChain(cfg *config.Config, logger *slog.Logger) (*vad.Detector, *audio.Segmenter, *enhance.Enhancer, error) {
	rate := cfg.Audio.TargetSampleRate

	detector, err := vad.NewDetector(vad.DefaultConfig(), rate)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create detector: %w", err)
	}

	segmenter, err := audio.NewSegmenter(audio.SegmenterConfig{
		SampleRate:       rate,
		MaxBuffer:        cfg.Segmenter.GetMaxBuffer(),
		DecisionWindow:   cfg.Segmenter.GetDecisionWindow(),
		SilenceThreshold: cfg.Segmenter.SilenceThreshold,
		SilenceTrim:      cfg.Segmenter.GetSilenceTrim(),
		ExtractWindow:    cfg.Segmenter.GetExtractWindow(),
		Overlap:          cfg.Segmenter.GetOverlap(),
	}, detector)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create segmenter: %w", err)
	}

	enhancerConfig := enhance.DefaultConfig()
	enhancerConfig.SampleRate = rate
	enhancerConfig.HighPassHz = cfg.Enhancer.HighPassHz
	enhancerConfig.HighPassOrder = cfg.Enhancer.FilterOrder
	enhancerConfig.LowPassHz = cfg.Enhancer.LowPassHz
	enhancerConfig.LowPassOrder = cfg.Enhancer.FilterOrder
	enhancerConfig.NoiseMethod = cfg.Enhancer.NoiseMethod
	enhancerConfig.Gate.PropDecrease = cfg.Enhancer.NoiseReduction
	enhancerConfig.CompressThreshold = cfg.Enhancer.CompressThreshold
	enhancerConfig.CompressRatio = cfg.Enhancer.CompressRatio
	enhancerConfig.PreEmphasis = cfg.Enhancer.PreEmphasis
	enhancerConfig.FinalPeak = cfg.Enhancer.FinalPeak

	enhancer, err := enhance.NewEnhancer(enhancerConfig, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create enhancer: %w", err)
	}

	return detector, segmenter, enhancer, nil
}

func stopStreaming(adapter *stream.StreamingAdapter, logger *slog.Logger) {
	if adapter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adapter.Stop(ctx); err != nil {
		logger.Warn("Error closing streaming connection", slog.String("error", err.Error()))
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// stdout is reserved for events
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
