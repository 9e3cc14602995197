// Package metrics provides Prometheus metrics for pomociclo:
// settlement outcomes and payouts, enrichments, locking, HTTP and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Settlement ─────────────────────────────────────────────────────────────

// Settlement outcomes used as the "outcome" label.
const (
	OutcomeSettled        = "settled"
	OutcomeAlreadySettled = "already_settled"
	OutcomeNotFound       = "not_found"
	OutcomeInvalid        = "invalid"
	OutcomeConflict       = "conflict"
	OutcomeError          = "error"
)

// SettlementsTotal counts EndSession calls by outcome.
var SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "settlements_total",
	Help:      "Total session settlements by outcome.",
}, []string{"outcome"})

// SettlementLatency tracks EndSession duration in seconds, lock wait included.
var SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pomo",
	Name:      "settlement_latency_seconds",
	Help:      "Session settlement duration in seconds.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
})

// SettlementAttempts tracks how many commit attempts a settlement needed.
var SettlementAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pomo",
	Name:      "settlement_attempts",
	Help:      "Commit attempts per settlement (1 = no conflict).",
	Buckets:   []float64{1, 2, 3, 5, 8},
})

// CoinsAwarded tracks coins granted by source ("session" or "quest").
var CoinsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "coins_awarded_total",
	Help:      "Total coins awarded.",
}, []string{"source"})

// XPAwarded tracks XP granted by source ("session" or "quest").
var XPAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "xp_awarded_total",
	Help:      "Total XP awarded.",
}, []string{"source"})

// LevelUps counts settlements that raised a user's level.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "level_ups_total",
	Help:      "Total settlements that produced at least one level-up.",
})

// ─── Enrichments ────────────────────────────────────────────────────────────

// QuestsCompleted counts quest payouts by quest type.
var QuestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "quests_completed_total",
	Help:      "Total weekly quests completed.",
}, []string{"type"})

// CalendarEventsCompleted counts events auto-completed after a session.
var CalendarEventsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "calendar_events_completed_total",
	Help:      "Total calendar events auto-completed.",
})

// EnrichmentFailures counts best-effort steps that failed ("quests", "calendar").
var EnrichmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "enrichment_failures_total",
	Help:      "Total failed post-settlement enrichments.",
}, []string{"step"})

// ─── Locking ────────────────────────────────────────────────────────────────

// LockWait tracks time spent waiting for the per-user lock.
var LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pomo",
	Name:      "lock_wait_seconds",
	Help:      "Time spent waiting for the per-user settlement lock.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "http_requests_total",
	Help:      "Total API requests by route and status.",
}, []string{"route", "status"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pomo",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pomo",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
