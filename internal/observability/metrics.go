package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_gateway_active_sessions",
		Help: "Number of active audio sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_gateway_sessions_total",
		Help: "Total number of sessions opened",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_gateway_session_duration_seconds",
		Help:    "Duration of audio sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_gateway_frames_dropped_total",
		Help: "Capture frames dropped before reaching the transport",
	})

	interruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_gateway_interruptions_total",
		Help: "Playback interruptions (barge-in)",
	}, []string{"origin"}) // origin: "server" or "local"

	malformedPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_gateway_malformed_payloads_total",
		Help: "Inbound messages dropped as malformed",
	})

	// Upstream metrics
	dialLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_gateway_upstream_dial_latency_seconds",
		Help:    "Time to establish the upstream streaming connection",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// SessionMetrics tracks metrics for a single audio session.
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a metrics tracker and records session start.
func NewSessionMetrics(sessionID string) *SessionMetrics {
	activeSessions.Inc()
	totalSessions.Inc()
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionEnd records the end of a session.
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes processed in a direction.
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordDroppedFrame counts a capture frame dropped before delivery.
func (m *SessionMetrics) RecordDroppedFrame() {
	framesDropped.Inc()
}

// RecordInterruption counts a playback interruption by origin.
func (m *SessionMetrics) RecordInterruption(origin string) {
	interruptions.WithLabelValues(origin).Inc()
}

// RecordMalformedPayload counts a dropped malformed inbound message.
func (m *SessionMetrics) RecordMalformedPayload() {
	malformedPayloads.Inc()
}

// RecordError records an error by type and component.
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordDialLatency observes how long the upstream dial took.
func RecordDialLatency(d time.Duration) {
	dialLatency.Observe(d.Seconds())
}
