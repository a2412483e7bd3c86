package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Tracker ─────────────────────────────────────────────────────────────────

	TrackerTasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tasktrack",
		Subsystem: "tracker",
		Name:      "tasks",
		Help:      "Live tasks in the store, labelled by status.",
	}, []string{"status"})

	TrackerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "tracker",
		Name:      "transitions_total",
		Help:      "Total applied state transitions, labelled by trigger.",
	}, []string{"trigger"})

	TrackerInvalidTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "tracker",
		Name:      "invalid_transitions_total",
		Help:      "Total rejected transitions, labelled by trigger.",
	}, []string{"trigger"})

	TrackerDroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "tracker",
		Name:      "dropped_events_total",
		Help:      "Total stream events dropped by the store, labelled by reason.",
	}, []string{"reason"})

	TrackerSubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "tracker",
		Name:      "subscriber_drops_total",
		Help:      "Total change notifications dropped on full subscriber buffers.",
	})

	// ─── Journal ─────────────────────────────────────────────────────────────────

	JournalDroppedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "journal",
		Name:      "dropped_entries_total",
		Help:      "Total journal entries dropped from the sink feed (buffer full).",
	})

	JournalSinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "journal",
		Name:      "sink_errors_total",
		Help:      "Total sink append failures, labelled by sink.",
	}, []string{"sink"})

	// ─── Dispatch ────────────────────────────────────────────────────────────────

	DispatchActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "dispatch",
		Name:      "actions_total",
		Help:      "Total dispatched user actions, labelled by action and outcome.",
	}, []string{"action", "outcome"})

	// ─── Ingest ──────────────────────────────────────────────────────────────────

	IngestEnvelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "ingest",
		Name:      "envelopes_total",
		Help:      "Total stream envelopes received, labelled by kind.",
	}, []string{"kind"})

	IngestParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "ingest",
		Name:      "parse_failures_total",
		Help:      "Total envelopes that could not be decoded.",
	})

	IngestEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "ingest",
		Name:      "events_total",
		Help:      "Total task events extracted from the stream, labelled by kind.",
	}, []string{"kind"})

	IngestReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "ingest",
		Name:      "reconnects_total",
		Help:      "Total SSE source reconnect attempts.",
	})

	// ─── API ─────────────────────────────────────────────────────────────────────

	APITasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "api",
		Name:      "tasks_created_total",
		Help:      "Total tasks created through the HTTP API, labelled by type.",
	}, []string{"type"})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tasktrack",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the rate limiter.",
	})
)
