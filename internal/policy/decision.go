package policy

import (
	"time"

	"breeze/internal/models"
)

// Decision reasons, also emitted as remediation-decision metric labels.
const (
	ReasonQueued      = "queued"
	ReasonInProgress  = "in_progress"
	ReasonGracePeriod = "grace_period"
	ReasonCooldown    = "cooldown"
)

// Decision is the outcome of the auto-remediation eligibility check.
type Decision struct {
	Queue  bool
	Reason string
}

// DecisionInput carries everything the decision depends on; the function
// itself is pure.
type DecisionInput struct {
	Violations                []models.Violation
	PreviousRemediationStatus string
	LastRemediationAttempt    *time.Time
	Now                       time.Time
	GracePeriodHours          int
	CooldownMinutes           int
}

// ShouldQueueAutoRemediation decides whether a violating device is eligible
// for automatic remediation right now. Checks apply in order: an in-flight
// remediation blocks, then the grace period (measured from the earliest
// unauthorized detection), then the cooldown since the last attempt.
func ShouldQueueAutoRemediation(in DecisionInput) Decision {
	if in.PreviousRemediationStatus == models.RemediationPending ||
		in.PreviousRemediationStatus == models.RemediationInProgress {
		return Decision{Reason: ReasonInProgress}
	}

	if in.GracePeriodHours > 0 {
		if earliest, ok := earliestUnauthorizedDetection(in.Violations); ok {
			grace := time.Duration(in.GracePeriodHours) * time.Hour
			if in.Now.Sub(earliest) < grace {
				return Decision{Reason: ReasonGracePeriod}
			}
		}
	}

	if in.LastRemediationAttempt != nil {
		cooldown := time.Duration(in.CooldownMinutes) * time.Minute
		if in.Now.Sub(*in.LastRemediationAttempt) < cooldown {
			return Decision{Reason: ReasonCooldown}
		}
	}

	return Decision{Queue: true, Reason: ReasonQueued}
}

func earliestUnauthorizedDetection(violations []models.Violation) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, v := range violations {
		if v.Type != models.ViolationUnauthorized {
			continue
		}
		if !found || v.DetectedAt.Before(earliest) {
			earliest = v.DetectedAt
			found = true
		}
	}
	return earliest, found
}
