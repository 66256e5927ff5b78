package transcription

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
)

// OpenAIConfig configures the hosted Whisper engine
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string // optional, for compatible servers
	Model    string
	Language string
	Prompt   string
	Timeout  time.Duration
}

// OpenAIEngine sends windows to an OpenAI-compatible transcription API
type OpenAIEngine struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIEngine creates the hosted engine
func NewOpenAIEngine(config OpenAIConfig) (*OpenAIEngine, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the engine name
func (o *OpenAIEngine) Name() string { return EngineOpenAI }

// Model returns the configured model
func (o *OpenAIEngine) Model() string { return o.config.Model }

// Probe checks that the model is visible to the API key
func (o *OpenAIEngine) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	if _, err := o.client.GetModel(ctx, o.config.Model); err != nil {
		return fmt.Errorf("model lookup failed: %w", err)
	}
	return nil
}

// Transcribe uploads the window as WAV and requests word timestamps
func (o *OpenAIEngine) Transcribe(ctx context.Context, in Audio) (Transcript, error) {
	if len(in.Samples) == 0 {
		return Transcript{}, ErrEmptyAudio
	}

	start := time.Now()
	wavData, err := audio.EncodeWAV(in.Samples, in.SampleRate)
	if err != nil {
		return Transcript{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       o.config.Model,
		FilePath:    "segment.wav",
		Reader:      bytes.NewReader(wavData),
		Prompt:      o.config.Prompt,
		Language:    o.config.Language,
		Temperature: 0,
		Format:      openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription request failed: %w", err)
	}

	transcript := Transcript{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: 0.9,
		Language:   resp.Language,
		Final:      true,
		Latency:    time.Since(start),
	}

	// confidence is the mean segment probability, exp(avg_logprob)
	if len(resp.Segments) > 0 {
		var sum float64
		for _, seg := range resp.Segments {
			sum += math.Exp(seg.AvgLogprob)
		}
		transcript.Confidence = sum / float64(len(resp.Segments))
	}

	for _, w := range resp.Words {
		transcript.Words = append(transcript.Words, Word{
			Text:        strings.TrimSpace(w.Word),
			Start:       w.Start,
			End:         w.End,
			Probability: transcript.Confidence,
		})
	}

	return transcript, nil
}
