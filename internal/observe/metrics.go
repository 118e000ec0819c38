package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "echo_sessions_active",
		Help: "Number of sessions currently running",
	})

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_sessions_total",
			Help: "Total sessions started by transport mode",
		},
		[]string{"mode"}, // live|replay
	)

	sessionEndsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_session_ends_total",
			Help: "Total sessions terminated by reason",
		},
		[]string{"reason"}, // stop|oversized|eof|error|canceled|panic
	)

	echoedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echo_messages_echoed_total",
		Help: "Total messages received and echoed",
	})

	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_messages_dropped_total",
			Help: "Total inbound messages that ended a session without being echoed",
		},
		[]string{"reason"}, // stop|oversized
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_actions_total",
			Help: "Total action records emitted by kind",
		},
		[]string{"kind"},
	)

	sinkDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_sink_dropped_total",
			Help: "Total action records a sink failed to deliver",
		},
		[]string{"sink", "reason"}, // reason: full|closed|error|panic
	)

	enqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_replay_enqueued_total",
			Help: "Total replay messages pushed into session queues by driver",
		},
		[]string{"driver"}, // redis|jsonl
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_replay_rejected_total",
			Help: "Total replay inputs rejected by driver and reason",
		},
		[]string{"driver", "reason"}, // reason: decode|too_long|closed
	)
)

func init() {
	prometheus.MustRegister(
		activeSessions,
		sessionsTotal,
		sessionEndsTotal,
		echoedTotal,
		droppedTotal,
		actionsTotal,
		sinkDroppedTotal,
		enqueuedTotal,
		rejectedTotal,
	)
}

func SessionStarted(mode string) {
	sessionsTotal.WithLabelValues(mode).Inc()
	activeSessions.Inc()
}

func SessionEnded(reason string) {
	sessionEndsTotal.WithLabelValues(reason).Inc()
	activeSessions.Dec()
}

func IncEchoed()                         { echoedTotal.Inc() }
func IncDropped(reason string)           { droppedTotal.WithLabelValues(reason).Inc() }
func IncAction(kind string)              { actionsTotal.WithLabelValues(kind).Inc() }
func IncSinkDropped(sink, reason string) { sinkDroppedTotal.WithLabelValues(sink, reason).Inc() }
func IncEnqueued(driver string)          { enqueuedTotal.WithLabelValues(driver).Inc() }
func IncRejected(driver, reason string)  { rejectedTotal.WithLabelValues(driver, reason).Inc() }
