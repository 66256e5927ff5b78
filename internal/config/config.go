package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TargetSampleRate is the only sample rate the processing chain accepts
const TargetSampleRate = 16000

// Engine names
const (
	EngineWhisper  = "whisper"
	EngineOpenAI   = "openai"
	EngineHTTP     = "http"
	EngineDeepgram = "deepgram"
)

// Config represents the complete transcriber configuration
type Config struct {
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Enhancer  EnhancerConfig  `yaml:"enhancer"`
	Engine    EngineConfig    `yaml:"engine"`
	Streaming StreamingConfig `yaml:"streaming"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Events    EventsConfig    `yaml:"events"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	Device           string `yaml:"device"` // optional name fragment overriding loopback selection
	TargetSampleRate int    `yaml:"target_sample_rate"`
	FramesPerRead    int    `yaml:"frames_per_read"` // 0 means one second of device frames
	QueueSize        int    `yaml:"queue_size"`
	MaxReopens       int    `yaml:"max_reopens"`
}

// SegmenterConfig contains rolling buffer and segmentation parameters
type SegmenterConfig struct {
	MaxBuffer        float64 `yaml:"max_buffer"`      // seconds
	DecisionWindow   float64 `yaml:"decision_window"` // seconds
	SilenceThreshold float64 `yaml:"silence_threshold"`
	SilenceTrim      float64 `yaml:"silence_trim"`   // seconds
	ExtractWindow    float64 `yaml:"extract_window"` // seconds
	Overlap          float64 `yaml:"overlap"`        // seconds
	MinPeak          float64 `yaml:"min_peak"`
}

// EnhancerConfig contains enhancement chain parameters
type EnhancerConfig struct {
	HighPassHz        float64 `yaml:"highpass_hz"`
	LowPassHz         float64 `yaml:"lowpass_hz"`
	FilterOrder       int     `yaml:"filter_order"`
	NoiseMethod       string  `yaml:"noise_method"` // spectral, gate or off
	NoiseReduction    float64 `yaml:"noise_reduction"`
	CompressThreshold float64 `yaml:"compress_threshold"`
	CompressRatio     float64 `yaml:"compress_ratio"`
	PreEmphasis       float64 `yaml:"pre_emphasis"`
	FinalPeak         float64 `yaml:"final_peak"`
}

// EngineConfig contains transcription engine configuration
type EngineConfig struct {
	Name          string `yaml:"name"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
	APIKey        string `yaml:"api_key"`
	Language      string `yaml:"language"`
	Command       string `yaml:"command"`  // whisper: command line
	Endpoint      string `yaml:"endpoint"` // http: multipart endpoint, openai: base URL
	Prompt        string `yaml:"prompt"`
	TempDir       string `yaml:"temp_dir"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	OutputFormat  string `yaml:"output_format"`
}

// StreamingConfig contains streaming connection parameters
type StreamingConfig struct {
	URL              string  `yaml:"url"`
	ChunkMS          int     `yaml:"chunk_ms"`
	OpenTimeout      float64 `yaml:"open_timeout"`  // seconds
	CloseTimeout     float64 `yaml:"close_timeout"` // seconds
	KeepaliveDelayMS int     `yaml:"keepalive_delay_ms"`
	KeepaliveMS      int     `yaml:"keepalive_interval_ms"`
	InterimResults   bool    `yaml:"interim_results"`
	SmartFormat      bool    `yaml:"smart_format"`
}

// HTTPConfig contains monitoring HTTP API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EventsConfig controls the host event stream
type EventsConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			TargetSampleRate: TargetSampleRate,
			QueueSize:        8,
			MaxReopens:       1,
		},
		Segmenter: SegmenterConfig{
			MaxBuffer:        5,
			DecisionWindow:   1,
			SilenceThreshold: 0.001,
			SilenceTrim:      0.5,
			ExtractWindow:    3,
			Overlap:          0.5,
			MinPeak:          0.01,
		},
		Enhancer: EnhancerConfig{
			HighPassHz:        85,
			LowPassHz:         7500,
			FilterOrder:       5,
			NoiseMethod:       "spectral",
			NoiseReduction:    0.3,
			CompressThreshold: 0.4,
			CompressRatio:     2,
			PreEmphasis:       0.95,
			FinalPeak:         0.85,
		},
		Engine: EngineConfig{
			Name:          EngineWhisper,
			FallbackModel: "base",
			Command:       "whisper-cli --output-json",
			Timeout:       60,
			MaxRetries:    3,
			MaxConcurrent: 2,
			OutputFormat:  "json",
		},
		Streaming: StreamingConfig{
			ChunkMS:          100,
			OpenTimeout:      5,
			CloseTimeout:     3,
			KeepaliveDelayMS: 300,
			KeepaliveMS:      500,
			InterimResults:   true,
			SmartFormat:      true,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	config.Engine.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// IsStreaming reports whether the configured engine is a streaming engine
func (c *Config) IsStreaming() bool {
	return c.Engine.Name == EngineDeepgram
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Enhancer.Validate(); err != nil {
		return fmt.Errorf("enhancer config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if c.IsStreaming() {
		if err := c.Streaming.Validate(); err != nil {
			return fmt.Errorf("streaming config: %w", err)
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.TargetSampleRate != TargetSampleRate {
		return fmt.Errorf("target_sample_rate must be %d Hz, got %d", TargetSampleRate, a.TargetSampleRate)
	}

	if a.FramesPerRead < 0 {
		return fmt.Errorf("frames_per_read cannot be negative, got %d", a.FramesPerRead)
	}

	if a.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", a.QueueSize)
	}

	if a.MaxReopens < 0 {
		return fmt.Errorf("max_reopens cannot be negative, got %d", a.MaxReopens)
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.DecisionWindow <= 0 {
		return fmt.Errorf("decision_window must be positive, got %f", s.DecisionWindow)
	}

	if s.ExtractWindow <= 0 {
		return fmt.Errorf("extract_window must be positive, got %f", s.ExtractWindow)
	}

	if s.MaxBuffer < s.ExtractWindow || s.MaxBuffer < s.DecisionWindow {
		return fmt.Errorf("max_buffer (%f) must hold extract_window (%f) and decision_window (%f)",
			s.MaxBuffer, s.ExtractWindow, s.DecisionWindow)
	}

	if s.Overlap < 0 || s.Overlap >= s.ExtractWindow {
		return fmt.Errorf("overlap must be in [0, extract_window), got %f", s.Overlap)
	}

	if s.SilenceTrim < 0 {
		return fmt.Errorf("silence_trim cannot be negative, got %f", s.SilenceTrim)
	}

	if s.SilenceThreshold < 0 {
		return fmt.Errorf("silence_threshold cannot be negative, got %f", s.SilenceThreshold)
	}

	if s.MinPeak < 0 || s.MinPeak >= 1 {
		return fmt.Errorf("min_peak must be in [0, 1), got %f", s.MinPeak)
	}

	return nil
}

// Validate validates enhancer configuration
func (e *EnhancerConfig) Validate() error {
	if e.HighPassHz <= 0 || e.LowPassHz <= e.HighPassHz {
		return fmt.Errorf("filter band (%f, %f) Hz is invalid", e.HighPassHz, e.LowPassHz)
	}

	if e.FilterOrder < 1 || e.FilterOrder > 10 {
		return fmt.Errorf("filter_order must be between 1 and 10, got %d", e.FilterOrder)
	}

	validMethods := map[string]bool{"spectral": true, "gate": true, "off": true}
	if !validMethods[e.NoiseMethod] {
		return fmt.Errorf("noise_method must be one of [spectral, gate, off], got '%s'", e.NoiseMethod)
	}

	if e.NoiseReduction < 0 || e.NoiseReduction > 1 {
		return fmt.Errorf("noise_reduction must be between 0 and 1, got %f", e.NoiseReduction)
	}

	if e.FinalPeak <= 0 || e.FinalPeak > 1 {
		return fmt.Errorf("final_peak must be in (0, 1], got %f", e.FinalPeak)
	}

	return nil
}

// defaultModels are used when no model is configured
var defaultModels = map[string]string{
	EngineWhisper:  "large-v3",
	EngineOpenAI:   "whisper-1",
	EngineHTTP:     "default",
	EngineDeepgram: "nova-2",
}

func (e *EngineConfig) applyDefaults() {
	if e.Model == "" {
		e.Model = defaultModels[e.Name]
	}
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	switch e.Name {
	case EngineWhisper:
		if e.Command == "" {
			return fmt.Errorf("command cannot be empty for the whisper engine")
		}
	case EngineOpenAI:
		if e.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the openai engine")
		}
	case EngineHTTP:
		if e.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http engine")
		}
	case EngineDeepgram:
		if e.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the deepgram engine")
		}
	default:
		return fmt.Errorf("name must be one of [whisper, openai, http, deepgram], got '%s'", e.Name)
	}

	if e.Model == "" {
		return errors.New("model cannot be empty")
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", e.MaxRetries)
	}

	if e.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.MaxConcurrent)
	}

	validFormats := map[string]bool{"json": true, "verbose_json": true}
	if !validFormats[e.OutputFormat] {
		return fmt.Errorf("output_format must be 'json' or 'verbose_json', got '%s'", e.OutputFormat)
	}

	return nil
}

// Validate validates streaming configuration
func (s *StreamingConfig) Validate() error {
	if s.ChunkMS < 20 || s.ChunkMS > 100 {
		return fmt.Errorf("chunk_ms must be between 20 and 100, got %d", s.ChunkMS)
	}

	if s.OpenTimeout <= 0 {
		return fmt.Errorf("open_timeout must be positive, got %f", s.OpenTimeout)
	}

	if s.KeepaliveMS <= 0 {
		return fmt.Errorf("keepalive_interval_ms must be positive, got %d", s.KeepaliveMS)
	}

	if s.KeepaliveDelayMS < 0 {
		return fmt.Errorf("keepalive_delay_ms cannot be negative, got %d", s.KeepaliveDelayMS)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// stdout carries the event stream
	if l.Output == "stdout" {
		return fmt.Errorf("output cannot be stdout, it is reserved for events")
	}

	return nil
}

// GetMaxBuffer returns the rolling buffer bound as a time.Duration
func (s *SegmenterConfig) GetMaxBuffer() time.Duration {
	return seconds(s.MaxBuffer)
}

// GetDecisionWindow returns the decision window as a time.Duration
func (s *SegmenterConfig) GetDecisionWindow() time.Duration {
	return seconds(s.DecisionWindow)
}

// GetSilenceTrim returns the silence trim as a time.Duration
func (s *SegmenterConfig) GetSilenceTrim() time.Duration {
	return seconds(s.SilenceTrim)
}

// GetExtractWindow returns the extraction window as a time.Duration
func (s *SegmenterConfig) GetExtractWindow() time.Duration {
	return seconds(s.ExtractWindow)
}

// GetOverlap returns the retained overlap as a time.Duration
func (s *SegmenterConfig) GetOverlap() time.Duration {
	return seconds(s.Overlap)
}

// GetTimeoutDuration returns the engine timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetChunkDuration returns the stream chunk length as a time.Duration
func (s *StreamingConfig) GetChunkDuration() time.Duration {
	return time.Duration(s.ChunkMS) * time.Millisecond
}

// GetOpenTimeout returns the open handshake bound as a time.Duration
func (s *StreamingConfig) GetOpenTimeout() time.Duration {
	return seconds(s.OpenTimeout)
}

// GetCloseTimeout returns the graceful close bound as a time.Duration
func (s *StreamingConfig) GetCloseTimeout() time.Duration {
	return seconds(s.CloseTimeout)
}

// GetKeepaliveDelay returns the keepalive settle delay as a time.Duration
func (s *StreamingConfig) GetKeepaliveDelay() time.Duration {
	return time.Duration(s.KeepaliveDelayMS) * time.Millisecond
}

// GetKeepaliveInterval returns the keepalive period as a time.Duration
func (s *StreamingConfig) GetKeepaliveInterval() time.Duration {
	return time.Duration(s.KeepaliveMS) * time.Millisecond
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
