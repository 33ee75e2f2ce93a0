// Package metrics exposes Prometheus instrumentation for the receptionist.
// All methods are nil-safe so instrumentation can be omitted in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and histograms for turns, bookings, and voice.
type Metrics struct {
	turnsTotal        *prometheus.CounterVec
	turnLatency       *prometheus.HistogramVec
	bookingsTotal     *prometheus.CounterVec
	slotMismatches    prometheus.Counter
	llmRetries        prometheus.Counter
	llmLatency        prometheus.Histogram
	calendarErrors    *prometheus.CounterVec
	voiceSessions     prometheus.Counter
	voiceDuration     prometheus.Histogram
	voiceInterrupts   prometheus.Counter
	conversationsDone *prometheus.CounterVec
}

// New registers the receptionist metric set.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "turn",
			Name:      "total",
			Help:      "Completed turns by channel and result",
		}, []string{"channel", "result"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "receptionist",
			Subsystem: "turn",
			Name:      "latency_seconds",
			Help:      "End-to-end turn latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "booking",
			Name:      "total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		slotMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "booking",
			Name:      "slot_mismatch_total",
			Help:      "Bookings rejected by slot-selection enforcement",
		}),
		llmRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "LLM completion retries after rate limits or timeouts",
		}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "receptionist",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM completion latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		calendarErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "calendar",
			Name:      "errors_total",
			Help:      "Calendar-of-record failures by operation",
		}, []string{"op"}),
		voiceSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "voice",
			Name:      "sessions_total",
			Help:      "Voice sessions opened",
		}),
		voiceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "receptionist",
			Subsystem: "voice",
			Name:      "session_duration_seconds",
			Help:      "Voice session duration",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800},
		}),
		voiceInterrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "voice",
			Name:      "interruptions_total",
			Help:      "Customer barge-ins during assistant speech",
		}),
		conversationsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "conversation",
			Name:      "completed_total",
			Help:      "Conversations finished by channel and status",
		}, []string{"channel", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.turnsTotal, m.turnLatency, m.bookingsTotal, m.slotMismatches,
		m.llmRetries, m.llmLatency, m.calendarErrors,
		m.voiceSessions, m.voiceDuration, m.voiceInterrupts, m.conversationsDone,
	)
	return m
}

func (m *Metrics) ObserveTurn(channel, result string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(channel, result).Inc()
	m.turnLatency.WithLabelValues(channel).Observe(seconds)
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSlotMismatch() {
	if m == nil {
		return
	}
	m.slotMismatches.Inc()
}

func (m *Metrics) ObserveLLMRetry() {
	if m == nil {
		return
	}
	m.llmRetries.Inc()
}

func (m *Metrics) ObserveLLMLatency(seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.Observe(seconds)
}

func (m *Metrics) ObserveCalendarError(op string) {
	if m == nil {
		return
	}
	m.calendarErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveVoiceSession(durationSeconds float64) {
	if m == nil {
		return
	}
	m.voiceSessions.Inc()
	m.voiceDuration.Observe(durationSeconds)
}

func (m *Metrics) ObserveVoiceInterruption() {
	if m == nil {
		return
	}
	m.voiceInterrupts.Inc()
}

func (m *Metrics) ObserveConversationCompleted(channel, status string) {
	if m == nil {
		return
	}
	m.conversationsDone.WithLabelValues(channel, status).Inc()
}
