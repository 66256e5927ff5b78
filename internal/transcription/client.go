package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
)

// Client sends windows to a generic multipart transcription endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore
	sleep      func(ctx context.Context, d time.Duration) error

	stats ClientStats
	mu    sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Model         string
	Language      string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	OutputFormat  string // "json" or "verbose_json"
	RetryBackoff  time.Duration
}

// TranscriptionResponse represents the response from the transcription API
type TranscriptionResponse struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
	Words      []Word    `json:"words,omitempty"`
	Duration   float64   `json:"duration"`
}

// Segment represents a segment of transcribed text
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// statusError carries a non-2xx response
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "json"
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		sleep:      sleepContext,
	}, nil
}

// Name returns the engine name
func (c *Client) Name() string { return EngineHTTP }

// Model returns the configured model
func (c *Client) Model() string { return c.config.Model }

// Probe transcribes one second of silence
func (c *Client) Probe(ctx context.Context) error {
	return silenceProbe(ctx, c, audio.TargetSampleRate)
}

// Transcribe sends a window for transcription, retrying transient failures
func (c *Client) Transcribe(ctx context.Context, in Audio) (Transcript, error) {
	if len(in.Samples) == 0 {
		return Transcript{}, ErrEmptyAudio
	}

	wavData, err := audio.EncodeWAV(in.Samples, in.SampleRate)
	if err != nil {
		return Transcript{}, err
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	}

	startTime := time.Now()
	c.track(func(s *ClientStats) { s.TotalRequests++ })
	requestID := uuid.NewString()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.track(func(s *ClientStats) { s.TotalRetries++ })

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryBackoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}
			if err := c.sleep(ctx, backoffTime); err != nil {
				return Transcript{}, err
			}
		}

		response, err := c.doRequest(ctx, requestID, in, wavData)
		if err == nil {
			elapsed := time.Since(startTime)
			c.track(func(s *ClientStats) {
				s.SuccessRequests++
				// running average weighted toward recent requests
				if s.AvgResponseTime == 0 {
					s.AvgResponseTime = elapsed
				} else {
					s.AvgResponseTime = (s.AvgResponseTime + elapsed) / 2
				}
			})
			return response.toTranscript(elapsed), nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	c.track(func(s *ClientStats) { s.FailedRequests++ })
	return Transcript{}, fmt.Errorf("transcription failed: %w", lastErr)
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, requestID string, in Audio, wavData []byte) (*TranscriptionResponse, error) {
	body, contentType, err := c.createMultipartRequest(requestID, in, wavData)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "loopback-transcriber/1.0")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var transcriptionResp TranscriptionResponse
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response JSON: %v", ErrProtocol, err)
	}

	return &transcriptionResp, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(requestID string, in Audio, wavData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", requestID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"request_id", requestID},
		{"sample_rate", fmt.Sprintf("%d", in.SampleRate)},
		{"duration", fmt.Sprintf("%.3f", in.Duration().Seconds())},
		{"response_format", c.config.OutputFormat},
	}
	if c.config.Model != "" {
		fields = append(fields, [2]string{"model", c.config.Model})
	}
	if c.config.Language != "" {
		fields = append(fields, [2]string{"language", c.config.Language})
	}

	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func (r *TranscriptionResponse) toTranscript(latency time.Duration) Transcript {
	t := Transcript{
		Text:       strings.TrimSpace(r.Text),
		Confidence: r.Confidence,
		Language:   r.Language,
		Words:      r.Words,
		Final:      true,
		Latency:    latency,
	}
	if t.Confidence == 0 && len(r.Segments) > 0 {
		var sum float64
		for _, s := range r.Segments {
			sum += s.Confidence
		}
		t.Confidence = sum / float64(len(r.Segments))
	}
	return t
}

// isRetryableError reports whether a failed attempt is worth repeating:
// timeouts, network errors, 5xx and 429 responses
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track applies fn to the statistics under the lock
func (c *Client) track(fn func(s *ClientStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	stats := c.stats
	c.mu.RUnlock()

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessRequests) / float64(stats.TotalRequests) * 100
	}
	stats.ActiveRequests = len(c.semaphore)
	return stats
}
