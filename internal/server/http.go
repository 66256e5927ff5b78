package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
	"github.com/skypro1111/loopback-transcriber/internal/capture"
	"github.com/skypro1111/loopback-transcriber/internal/config"
	"github.com/skypro1111/loopback-transcriber/internal/enhance"
	"github.com/skypro1111/loopback-transcriber/internal/events"
	"github.com/skypro1111/loopback-transcriber/internal/metrics"
	"github.com/skypro1111/loopback-transcriber/internal/pipeline"
	"github.com/skypro1111/loopback-transcriber/internal/stream"
	"github.com/skypro1111/loopback-transcriber/internal/vad"
)

// Components exposes the live session to the API. Nil fields are omitted.
type Components struct {
	Runner    *pipeline.Runner
	Capture   *capture.Loop
	Segmenter *audio.Segmenter
	Detector  *vad.Detector
	Enhancer  *enhance.Enhancer
	Batch     *stream.BatchAdapter
	Streaming *stream.StreamingAdapter
	Emitter   *events.Emitter
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	components Components

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// SetComponents attaches the running session
func (h *HTTPServer) SetComponents(c Components) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components = c
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.RLock()
	c := h.components
	h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	components := map[string]any{}

	if c.Capture != nil {
		stats := c.Capture.GetStats()
		components["capture"] = map[string]any{
			"device":         stats.Device.Name,
			"frames_read":    stats.FramesRead,
			"frames_dropped": stats.FramesDropped,
			"reopens":        stats.Reopens,
		}
	}
	if c.Streaming != nil {
		state := c.Streaming.State()
		components["streaming"] = map[string]any{"state": state.String()}
		if state == stream.StateFailed {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	if c.Batch != nil {
		stats := c.Batch.GetStats()
		components["batch"] = map[string]any{
			"engine":   stats.Engine,
			"model":    stats.Model,
			"failures": stats.Failures,
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "loopback-transcriber",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config == nil {
		http.Error(w, "Configuration unavailable", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, h.config.Redacted())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.RLock()
	c := h.components
	h.mu.RUnlock()

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if c.Runner != nil {
		stats["pipeline"] = c.Runner.GetStats()
	}
	if c.Capture != nil {
		stats["capture"] = c.Capture.GetStats()
	}
	if c.Segmenter != nil {
		stats["segmenter"] = c.Segmenter.GetStats()
	}
	if c.Detector != nil {
		stats["detector"] = c.Detector.GetStats()
	}
	if c.Enhancer != nil {
		stats["enhancer"] = c.Enhancer.GetStats()
	}
	if c.Batch != nil {
		stats["batch"] = c.Batch.GetStats()
	}
	if c.Streaming != nil {
		stats["streaming"] = c.Streaming.GetStats()
	}
	if c.Emitter != nil {
		stats["events"] = c.Emitter.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Loopback Transcriber",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /config":  "Get configuration (secrets redacted)",
			"GET /stats":   "Get component statistics",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
