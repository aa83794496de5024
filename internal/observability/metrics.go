package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_coach_active_sessions",
		Help: "Number of live coaching sessions currently connected",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_sessions_total",
		Help: "Total number of connection attempts by outcome",
	}, []string{"outcome"}) // outcome: connected, disconnected, error

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_coach_session_duration_seconds",
		Help:    "Duration of connected coaching sessions in seconds",
		Buckets: []float64{5, 30, 60, 120, 300, 600, 1200, 1800},
	})

	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_coach_connect_latency_seconds",
		Help:    "Time from connect() to the session open acknowledgment",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_state_transitions_total",
		Help: "Controller state transitions",
	}, []string{"from", "to"})

	// Media metrics
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_frames_sent_total",
		Help: "Outbound media frames delivered to the live session",
	}, []string{"kind"}) // kind: audio, video

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_frames_dropped_total",
		Help: "Outbound media frames dropped because the session was no longer connected or the send failed",
	}, []string{"kind", "reason"})

	decodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_coach_decode_errors_total",
		Help: "Inbound audio payloads that failed to decode",
	})

	playbackInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_coach_playback_interrupts_total",
		Help: "Barge-in interruptions that flushed scheduled playback",
	})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Request helper metrics
	helperRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_helper_requests_total",
		Help: "Stateless helper requests by helper and status",
	}, []string{"helper", "status"})

	helperLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_coach_helper_latency_seconds",
		Help:    "Stateless helper request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"helper"})

	// Gateway metrics
	gatewayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_coach_gateway_clients",
		Help: "Number of browser websocket clients currently attached",
	})

	gatewayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_gateway_messages_total",
		Help: "Client websocket messages received by type",
	}, []string{"type"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_coach_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_coach_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single connection attempt
type Metrics struct {
	attemptID   string
	startTime   time.Time
	connectedAt time.Time
	mu          sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a connection attempt
func NewSessionMetrics(attemptID string) *Metrics {
	return &Metrics{
		attemptID: attemptID,
		startTime: time.Now(),
	}
}

// AttemptID returns the attempt this tracker belongs to
func (m *Metrics) AttemptID() string {
	return m.attemptID
}

// RecordConnected records the open acknowledgment of the session
func (m *Metrics) RecordConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectedAt.IsZero() {
		return
	}
	m.connectedAt = time.Now()
	connectLatency.Observe(m.connectedAt.Sub(m.startTime).Seconds())
	activeSessions.Inc()
	sessionsTotal.WithLabelValues("connected").Inc()
}

// RecordEnd records the end of the attempt with its outcome
func (m *Metrics) RecordEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectedAt.IsZero() {
		activeSessions.Dec()
		sessionDuration.Observe(time.Since(m.connectedAt).Seconds())
		m.connectedAt = time.Time{}
	}
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition records a controller state change
func (m *Metrics) RecordTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordFrameSent records an outbound frame of the given kind
func (m *Metrics) RecordFrameSent(kind string, bytes int) {
	framesSent.WithLabelValues(kind).Inc()
	if kind == "audio" {
		audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
	}
}

// RecordFrameDropped records an outbound frame that never reached the session
func (m *Metrics) RecordFrameDropped(kind, reason string) {
	framesDropped.WithLabelValues(kind, reason).Inc()
}

// RecordAudioReceived records inbound agent audio bytes
func (m *Metrics) RecordAudioReceived(bytes int) {
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordDecodeError records an inbound payload that failed to decode
func (m *Metrics) RecordDecodeError() {
	decodeErrors.Inc()
}

// RecordInterrupt records a playback flush
func (m *Metrics) RecordInterrupt() {
	playbackInterrupts.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordHelperRequest records one stateless helper call
func RecordHelperRequest(helper string, start time.Time, success bool) {
	helperLatency.WithLabelValues(helper).Observe(time.Since(start).Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	helperRequests.WithLabelValues(helper, status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// RecordGatewayClient adjusts the attached client gauge by delta
func RecordGatewayClient(delta float64) {
	gatewayClients.Add(delta)
}

// RecordGatewayMessage counts one client message
func RecordGatewayMessage(msgType string) {
	gatewayMessages.WithLabelValues(msgType).Inc()
}
