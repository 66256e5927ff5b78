package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcriber. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Capture metrics
	FramesCaptured prometheus.Counter
	FramesDropped  prometheus.Counter
	DeviceReopens  prometheus.Counter

	// Segmentation metrics
	DecisionWindows   prometheus.Counter
	SpeechCandidates  prometheus.Counter
	WindowsDispatched prometheus.Counter
	WindowsSkipped    prometheus.Counter
	WindowDuration    prometheus.Histogram
	DetectorTime      prometheus.Histogram
	EnhanceFallbacks  *prometheus.CounterVec
	EnhanceDuration   prometheus.Histogram

	// Batch transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Streaming metrics
	ChunksSent      prometheus.Counter
	KeepalivesSent  prometheus.Counter
	TransientErrors prometheus.Counter
	ConnectionState prometheus.Gauge

	// Event metrics
	EventsEmitted *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_frames_captured_total",
			Help: "Total number of audio blocks read from the capture device",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_frames_dropped_total",
			Help: "Total number of audio blocks dropped because processing fell behind",
		}),
		DeviceReopens: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_device_reopens_total",
			Help: "Total number of capture stream reopen attempts",
		}),

		// Segmentation metrics
		DecisionWindows: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_decision_windows_total",
			Help: "Total number of energy decision windows evaluated",
		}),
		SpeechCandidates: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_speech_candidates_total",
			Help: "Total number of decision windows confirmed as speech",
		}),
		WindowsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_windows_dispatched_total",
			Help: "Total number of windows delivered to the transcription engine",
		}),
		WindowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_windows_skipped_total",
			Help: "Total number of windows skipped for low volume",
		}),
		WindowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopback_window_duration_seconds",
			Help:    "Duration of dispatched windows",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 10), // 0.5s to 5s
		}),
		DetectorTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopback_detector_duration_seconds",
			Help:    "Time spent in speech activity detection",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10), // 0.1ms to ~50ms
		}),
		EnhanceFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loopback_enhance_fallbacks_total",
			Help: "Total number of enhancement stages that were skipped or fell back",
		}, []string{"stage"}),
		EnhanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopback_enhance_duration_seconds",
			Help:    "Time spent enhancing a window",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),

		// Batch transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_transcription_requests_total",
			Help: "Total number of batch transcription requests",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_transcription_successes_total",
			Help: "Total number of successful batch transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_transcription_failures_total",
			Help: "Total number of failed batch transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopback_transcription_duration_seconds",
			Help:    "Duration of batch transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.7 minutes
		}),

		// Streaming metrics
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_stream_chunks_sent_total",
			Help: "Total number of audio chunks sent on the streaming connection",
		}),
		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_stream_keepalives_sent_total",
			Help: "Total number of keepalive silence chunks sent",
		}),
		TransientErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "loopback_stream_send_errors_total",
			Help: "Total number of chunks abandoned after a send error",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loopback_stream_connection_state",
			Help: "Current streaming connection state (0 disconnected .. 6 failed)",
		}),

		// Event metrics
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loopback_events_emitted_total",
			Help: "Total number of events written to the host",
		}, []string{"type"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loopback_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loopback_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordFrameCaptured increments the captured frames counter
func (m *Metrics) RecordFrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// RecordDeviceReopen increments the device reopen counter
func (m *Metrics) RecordDeviceReopen() {
	if m == nil {
		return
	}
	m.DeviceReopens.Inc()
}

// RecordDecision records one decision window and whether it was speech
func (m *Metrics) RecordDecision(speech bool) {
	if m == nil {
		return
	}
	m.DecisionWindows.Inc()
	if speech {
		m.SpeechCandidates.Inc()
	}
}

// RecordDetectorTime observes the detector cost for a dispatched window
func (m *Metrics) RecordDetectorTime(seconds float64) {
	if m == nil {
		return
	}
	m.DetectorTime.Observe(seconds)
}

// RecordWindowDispatched records a window handed to an engine
func (m *Metrics) RecordWindowDispatched(durationSeconds float64) {
	if m == nil {
		return
	}
	m.WindowsDispatched.Inc()
	m.WindowDuration.Observe(durationSeconds)
}

// RecordWindowSkipped increments the low-volume skip counter
func (m *Metrics) RecordWindowSkipped() {
	if m == nil {
		return
	}
	m.WindowsSkipped.Inc()
}

// RecordEnhancement records enhancement time and any degraded stages
func (m *Metrics) RecordEnhancement(durationSeconds float64, failedStages []string) {
	if m == nil {
		return
	}
	m.EnhanceDuration.Observe(durationSeconds)
	for _, stage := range failedStages {
		m.EnhanceFallbacks.WithLabelValues(stage).Inc()
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordChunkSent increments the streamed chunk counter
func (m *Metrics) RecordChunkSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
}

// RecordKeepalive increments the keepalive counter
func (m *Metrics) RecordKeepalive() {
	if m == nil {
		return
	}
	m.KeepalivesSent.Inc()
}

// RecordTransientError increments the abandoned chunk counter
func (m *Metrics) RecordTransientError() {
	if m == nil {
		return
	}
	m.TransientErrors.Inc()
}

// SetConnectionState sets the connection state gauge
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
}

// RecordEvent increments the emitted events counter for eventType
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
