package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewClient(Config{Endpoint: "http://localhost", MaxRetries: -1})
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if client.config.MaxRetries != 3 || client.config.Timeout != 30*time.Second {
		t.Errorf("Expected defaults to be applied, got %+v", client.config)
	}
}

func TestClientTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file.Close()
		if header.Size < 44 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("model") != "large-v3" || r.FormValue("sample_rate") != "16000" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		json.NewEncoder(w).Encode(TranscriptionResponse{
			Text:     " hello there ",
			Segments: []Segment{{Text: "hello there", Confidence: 0.6}, {Confidence: 0.8}},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, APIKey: "secret", Model: "large-v3"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	transcript, err := client.Transcribe(context.Background(), Audio{Samples: make([]float32, 16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if transcript.Text != "hello there" {
		t.Errorf("Expected trimmed text, got %q", transcript.Text)
	}
	if transcript.Confidence < 0.69 || transcript.Confidence > 0.71 {
		t.Errorf("Expected segment-average confidence 0.7, got %f", transcript.Confidence)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.ActiveRequests != 0 {
		t.Errorf("Expected no active requests, got %d", stats.ActiveRequests)
	}
}

func TestClientRetries(t *testing.T) {
	tests := []struct {
		name          string
		failures      int32
		status        int
		expectErr     bool
		expectedCalls int32
	}{
		{"server error then success", 2, http.StatusInternalServerError, false, 3},
		{"rate limited then success", 1, http.StatusTooManyRequests, false, 2},
		{"bad request is not retried", 5, http.StatusBadRequest, true, 1},
		{"retries exhausted", 10, http.StatusBadGateway, true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) <= tt.failures {
					w.WriteHeader(tt.status)
					return
				}
				w.Write([]byte(`{"text":"ok","confidence":0.9}`))
			}))
			defer server.Close()

			client, err := NewClient(Config{Endpoint: server.URL, MaxRetries: 3})
			if err != nil {
				t.Fatalf("Failed to create client: %v", err)
			}
			client.sleep = noSleep

			_, err = client.Transcribe(context.Background(), Audio{Samples: make([]float32, 160), SampleRate: 16000})
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
			if got := atomic.LoadInt32(&calls); got != tt.expectedCalls {
				t.Errorf("Expected %d calls, got %d", tt.expectedCalls, got)
			}
		})
	}
}

func TestClientMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.Transcribe(context.Background(), Audio{Samples: make([]float32, 160), SampleRate: 16000})
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected ErrProtocol, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"503", &statusError{Code: 503}, true},
		{"429", &statusError{Code: 429}, true},
		{"401", &statusError{Code: 401}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}
