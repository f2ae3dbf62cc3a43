package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_ingested_total",
			Help: "Total number of events ingested",
		},
		[]string{"source"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_ingest_rejected_total",
			Help: "Total number of ingest requests rejected",
		},
		[]string{"reason"},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"kind", "severity"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_ingest_duration_seconds",
			Help:    "Time taken to normalize, evaluate and persist one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	RegexTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_rule_regex_timeouts_total",
			Help: "Total number of regex evaluations that hit the match timeout",
		},
		[]string{"rule_id"},
	)

	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_rules_loaded",
			Help: "Number of detection rules currently loaded",
		},
	)

	IndicatorsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_indicators_loaded",
			Help: "Number of indicators in the matcher index",
		},
	)

	ActionsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_actions_enqueued_total",
			Help: "Total number of response actions queued",
		},
		[]string{"type"},
	)

	ActionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_actions_rejected_total",
			Help: "Total number of dangerous actions rejected by the allowlist",
		},
		[]string{"type"},
	)

	ActionsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_actions_delivered_total",
			Help: "Total number of actions delivered to polling agents",
		},
	)

	ActionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_actions_finalized_total",
			Help: "Total number of action results reported by agents",
		},
		[]string{"status"},
	)

	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_agents_registered_total",
			Help: "Total number of agent registrations",
		},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_incidents_created_total",
			Help: "Total number of incidents created",
		},
		[]string{"trigger"},
	)

	SinkDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_sink_deliveries_total",
			Help: "Alert sink delivery attempts by outcome",
		},
		[]string{"sink", "outcome"},
	)

	SinkQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_sink_queue_dropped_total",
			Help: "Alerts dropped because the sink queue was full",
		},
	)

	StatsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_stats_cache_requests_total",
			Help: "Stats cache lookups by result",
		},
		[]string{"result"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_websocket_clients",
			Help: "Connected alert stream clients",
		},
	)

	EventsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_events_purged_total",
			Help: "Total number of events removed by retention",
		},
	)

	SQLitePoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_sqlite_pool_open_connections",
			Help: "Open connections in the SQLite pool",
		},
		[]string{"pool"},
	)

	SQLitePoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_sqlite_pool_in_use",
			Help: "Connections currently in use in the SQLite pool",
		},
		[]string{"pool"},
	)

	SQLitePoolIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_sqlite_pool_idle",
			Help: "Idle connections in the SQLite pool",
		},
		[]string{"pool"},
	)

	SQLitePoolWaitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_sqlite_pool_wait_count_total",
			Help: "Total number of connections waited for",
		},
		[]string{"pool"},
	)
)
