package policy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Evaluation reasons.
const (
	reasonEvaluated = "evaluated"
	reasonError     = "error"
	reasonShadowed  = "shadowed"
)

// Remediation decision outcomes beyond the decision-function reasons.
const (
	decisionScheduled      = "scheduled"
	decisionJobDeduped     = "job_deduped"
	decisionNoViolations   = "no_violations"
	decisionCommandQueued  = "command_queued"
	decisionCommandDeduped = "command_deduped"
	decisionCommandFailed  = "command_failed"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breeze",
		Subsystem: "software_policy",
		Name:      "evaluations_total",
		Help:      "Device evaluations by policy mode, resulting status and reason",
	}, []string{"mode", "status", "reason"})

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "breeze",
		Subsystem: "software_policy",
		Name:      "evaluation_duration_seconds",
		Help:      "Per-device evaluation duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"mode", "status"})

	violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breeze",
		Subsystem: "software_policy",
		Name:      "violations_total",
		Help:      "Violations detected during evaluation by policy mode",
	}, []string{"mode"})

	remediationDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breeze",
		Subsystem: "software_policy",
		Name:      "remediation_decisions_total",
		Help:      "Remediation pipeline decisions by outcome",
	}, []string{"decision"})
)

func observeEvaluation(mode, status, reason string, d time.Duration) {
	evaluationsTotal.WithLabelValues(mode, status, reason).Inc()
	evaluationDuration.WithLabelValues(mode, status).Observe(d.Seconds())
}

func addViolations(mode string, n int) {
	if n > 0 {
		violationsTotal.WithLabelValues(mode).Add(float64(n))
	}
}

func recordDecision(decision string) {
	remediationDecisionsTotal.WithLabelValues(decision).Inc()
}
