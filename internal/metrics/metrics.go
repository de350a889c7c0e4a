package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC surface metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_http_requests_total",
			Help: "Total RPC surface HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_http_request_duration_seconds",
			Help:    "RPC surface HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Message routing
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_messages_routed_total",
			Help: "Total ACL messages routed, by delivery path",
		},
		[]string{"path"}, // "local" or "remote"
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_messages_dropped_total",
			Help: "Total ACL messages dropped before delivery",
		},
		[]string{"reason"}, // "duplicate", "no_route", "mailbox_full", "shutting_down"
	)

	MailboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentd_mailbox_depth",
			Help: "Current mailbox depth for a supervised agent",
		},
		[]string{"agent"},
	)

	// Agent lifecycle
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentd_agents_registered_total",
			Help: "Total agents registered in the directory",
		},
	)

	ActorRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_actor_restarts_total",
			Help: "Total supervised actor restarts",
		},
		[]string{"reason"},
	)

	// Migration pipeline
	MigrationsAttempted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentd_migrations_attempted_total",
			Help: "Total agent migrations attempted",
		},
	)

	MigrationsSucceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentd_migrations_succeeded_total",
			Help: "Total agent migrations that committed on the target node",
		},
	)

	MigrationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_migrations_failed_total",
			Help: "Total agent migrations that failed, by stage",
		},
		[]string{"stage"}, // "capture", "sign", "transfer", "verify", "restore", "commit"
	)

	// Consensus
	ConsensusApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_consensus_applies_total",
			Help: "Total Raft log applies, by request kind",
		},
		[]string{"kind"},
	)

	ConsensusApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentd_consensus_apply_duration_seconds",
			Help:    "Time to apply one committed Raft log entry to the local state machine",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// Dedup / transport
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentd_redis_latency_seconds",
			Help:    "Envelope dedup cache operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
