package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the session engine. All
// recording methods are safe on a nil *Metrics so components can run without
// instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Capture metrics
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter
	SendErrors    prometheus.Counter

	// Playback metrics
	PlaybackScheduled    prometheus.Counter
	PlaybackAudioSeconds prometheus.Counter
	PlaybackDecodeErrors prometheus.Counter
	PlaybackStopped      prometheus.Counter
	PlaybackLead         prometheus.Histogram

	// Tool metrics
	ToolInvocations *prometheus.CounterVec
	ToolDuration    prometheus.Histogram

	// Transcript metrics
	TranscriptDeltas *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "duplexkit"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently open",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Closed sessions by close reason",
		}, []string{"reason"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session lifetime from start to closed",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_sent_total",
			Help:      "Microphone frames delivered to the transport",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_dropped_total",
			Help:      "Microphone frames replaced by a newer frame before they could be sent",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_send_errors_total",
			Help:      "Microphone frames the transport refused",
		}),
		PlaybackScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_items_scheduled_total",
			Help:      "Remote audio chunks scheduled for playback",
		}),
		PlaybackAudioSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_audio_seconds_total",
			Help:      "Seconds of remote audio scheduled",
		}),
		PlaybackDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_decode_errors_total",
			Help:      "Remote audio chunks dropped because they could not be decoded",
		}),
		PlaybackStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_items_stopped_total",
			Help:      "Scheduled items force-stopped before completion",
		}),
		PlaybackLead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_lead_seconds",
			Help:      "How far in the future an item was scheduled when it arrived",
			Buckets:   []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by outcome",
		}, []string{"outcome"}),
		ToolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_invocation_duration_seconds",
			Help:      "Time from dispatch to response",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		TranscriptDeltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_deltas_total",
			Help:      "Transcript deltas applied by speaker",
		}, []string{"speaker"}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.FramesSent,
		m.FramesDropped,
		m.SendErrors,
		m.PlaybackScheduled,
		m.PlaybackAudioSeconds,
		m.PlaybackDecodeErrors,
		m.PlaybackStopped,
		m.PlaybackLead,
		m.ToolInvocations,
		m.ToolDuration,
		m.TranscriptDeltas,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) RecordSessionEnd(reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
}

func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) RecordSendError() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

func (m *Metrics) RecordPlaybackScheduled(duration, lead time.Duration) {
	if m == nil {
		return
	}
	m.PlaybackScheduled.Inc()
	m.PlaybackAudioSeconds.Add(duration.Seconds())
	m.PlaybackLead.Observe(lead.Seconds())
}

func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.PlaybackDecodeErrors.Inc()
}

func (m *Metrics) RecordPlaybackStopped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PlaybackStopped.Add(float64(n))
}

// RecordToolInvocation records one resolved invocation. outcome is one of
// "ok", "error", "timeout", "panic", "discarded".
func (m *Metrics) RecordToolInvocation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(outcome).Inc()
	m.ToolDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordTranscriptDelta(speaker string) {
	if m == nil {
		return
	}
	m.TranscriptDeltas.WithLabelValues(speaker).Inc()
}
