package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skypro1111/loopback-transcriber/internal/config"
	"github.com/skypro1111/loopback-transcriber/internal/events"
	"github.com/skypro1111/loopback-transcriber/internal/metrics"
	"github.com/skypro1111/loopback-transcriber/internal/stream"
	"github.com/skypro1111/loopback-transcriber/internal/transcription"
)

// withFallback runs try with the configured model and, if that fails, once
// more with the fallback model. The returned error is a BackendInitError for
// the last model attempted.
func withFallback(cfg config.EngineConfig, emitter *events.Emitter, logger *slog.Logger,
	try func(model string) error) (string, bool, error) {

	err := try(cfg.Model)
	if err == nil {
		return cfg.Model, false, nil
	}
	primary := initError(cfg.Name, cfg.Model, err)

	if cfg.FallbackModel == "" || cfg.FallbackModel == cfg.Model {
		return "", false, primary
	}

	logger.Warn("Engine initialization failed, trying fallback model",
		slog.String("engine", cfg.Name),
		slog.String("model", cfg.Model),
		slog.String("fallback_model", cfg.FallbackModel),
		slog.String("error", err.Error()),
	)
	emitter.Status("Model %s unavailable, falling back to %s", cfg.Model, cfg.FallbackModel)

	if err := try(cfg.FallbackModel); err != nil {
		return "", false, initError(cfg.Name, cfg.FallbackModel, err)
	}
	return cfg.FallbackModel, true, nil
}

func initError(engine, model string, err error) error {
	var initErr *transcription.BackendInitError
	if errors.As(err, &initErr) {
		return err
	}
	return &transcription.BackendInitError{Engine: engine, Model: model, Err: err}
}

// newBatchEngine builds the configured batch engine for model
func newBatchEngine(cfg config.EngineConfig, model string) (transcription.BatchTranscriber, error) {
	switch cfg.Name {
	case config.EngineWhisper:
		return transcription.NewWhisperEngine(transcription.WhisperConfig{
			Command:  cfg.Command,
			Model:    model,
			Language: cfg.Language,
			TempDir:  cfg.TempDir,
			Timeout:  cfg.GetTimeoutDuration(),
		})
	case config.EngineOpenAI:
		return transcription.NewOpenAIEngine(transcription.OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.Endpoint,
			Model:    model,
			Language: cfg.Language,
			Prompt:   cfg.Prompt,
			Timeout:  cfg.GetTimeoutDuration(),
		})
	case config.EngineHTTP:
		return transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Model:         model,
			Language:      cfg.Language,
			Timeout:       cfg.GetTimeoutDuration(),
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
			OutputFormat:  cfg.OutputFormat,
		})
	default:
		return nil, fmt.Errorf("engine %q is not a batch engine", cfg.Name)
	}
}

// initBatchEngine builds and probes the batch engine, falling back once
func initBatchEngine(ctx context.Context, cfg *config.Config, emitter *events.Emitter,
	logger *slog.Logger) (transcription.BatchTranscriber, bool, error) {

	var engine transcription.BatchTranscriber
	_, fallback, err := withFallback(cfg.Engine, emitter, logger, func(model string) error {
		candidate, err := newBatchEngine(cfg.Engine, model)
		if err != nil {
			return err
		}

		emitter.Status("Loading %s model %s", cfg.Engine.Name, model)
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Engine.GetTimeoutDuration())
		defer cancel()
		if err := candidate.Probe(probeCtx); err != nil {
			return fmt.Errorf("readiness probe failed: %w", err)
		}

		engine = candidate
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	logger.Info("Batch engine ready",
		slog.String("engine", engine.Name()),
		slog.String("model", engine.Model()),
		slog.Bool("fallback", fallback),
	)
	return engine, fallback, nil
}

// startStreaming opens the streaming connection, falling back once
func startStreaming(ctx context.Context, cfg *config.Config, emitter *events.Emitter,
	m *metrics.Metrics, logger *slog.Logger) (*stream.StreamingAdapter, string, bool, error) {

	adapterConfig := stream.DefaultAdapterConfig()
	adapterConfig.OpenTimeout = cfg.Streaming.GetOpenTimeout()
	adapterConfig.CloseTimeout = cfg.Streaming.GetCloseTimeout()
	adapterConfig.KeepaliveDelay = cfg.Streaming.GetKeepaliveDelay()
	adapterConfig.KeepaliveInterval = cfg.Streaming.GetKeepaliveInterval()

	var adapter *stream.StreamingAdapter
	model, fallback, err := withFallback(cfg.Engine, emitter, logger, func(model string) error {
		engine, err := transcription.NewDeepgramEngine(transcription.DeepgramConfig{
			APIKey:         cfg.Engine.APIKey,
			URL:            cfg.Streaming.URL,
			Model:          model,
			Language:       cfg.Engine.Language,
			SampleRate:     cfg.Audio.TargetSampleRate,
			InterimResults: cfg.Streaming.InterimResults,
			SmartFormat:    cfg.Streaming.SmartFormat,
			CloseTimeout:   cfg.Streaming.GetCloseTimeout(),
		}, logger)
		if err != nil {
			return err
		}

		candidate := stream.NewStreamingAdapter(engine, emitter, m, logger, adapterConfig)
		if err := candidate.Start(ctx); err != nil {
			return err
		}

		adapter = candidate
		return nil
	})
	if err != nil {
		return nil, "", false, err
	}
	return adapter, model, fallback, nil
}
