package policy

import (
	"context"
	"fmt"
	"time"

	"breeze/internal/logs"
	"breeze/internal/models"
)

// RemediateJob is the payload of a remediate-device job.
type RemediateJob struct {
	PolicyID string `json:"policyId"`
	DeviceID string `json:"deviceId"`
}

// RemediateResult summarizes one remediation run.
type RemediateResult struct {
	PolicyID       string `json:"policyId"`
	DeviceID       string `json:"deviceId"`
	CommandsQueued int    `json:"commandsQueued"`
	Errors         int    `json:"errors"`
}

// inFlightWindow bounds how far back the executor looks for already
// dispatched uninstall commands when deduplicating.
const inFlightWindow = 24 * time.Hour

const commandSource = "software_policy"

// Executor consumes remediation jobs: it re-validates eligibility, extracts
// unauthorized violations, dedups against in-flight uninstall commands,
// dispatches commands and advances the remediation state machine.
type Executor struct {
	policies   PolicyStore
	compliance ComplianceStore
	commands   CommandDispatcher
	audit      *AuditLog

	now func() time.Time
}

func NewExecutor(policies PolicyStore, compliance ComplianceStore, commands CommandDispatcher, audit *AuditLog) *Executor {
	return &Executor{
		policies:   policies,
		compliance: compliance,
		commands:   commands,
		audit:      audit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (x *Executor) HandleRemediate(ctx context.Context, job RemediateJob) (*RemediateResult, error) {
	res := &RemediateResult{PolicyID: job.PolicyID, DeviceID: job.DeviceID}

	p, err := x.policies.GetByID(ctx, job.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", job.PolicyID, err)
	}
	if p == nil || !p.IsActive {
		return res, nil
	}

	row, err := x.compliance.Get(ctx, job.PolicyID, job.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("load compliance row %s/%s: %w", job.PolicyID, job.DeviceID, err)
	}
	if row == nil {
		return res, nil
	}

	now := x.now()
	opts := p.Remediation()

	// Authoritative cooldown check. The scheduling-time check is loose; a
	// retried or independently scheduled job may land inside the window.
	if row.LastRemediationAttempt != nil {
		if until := row.LastRemediationAttempt.Add(opts.Cooldown()); now.Before(until) {
			row.RemediationStatus = models.RemediationPending
			row.SetRemediationErrors([]models.RemediationError{{
				Message: fmt.Sprintf("remediation deferred: cooldown until %s", until.Format(time.RFC3339)),
			}})
			if err := x.compliance.Save(ctx, row); err != nil {
				return nil, fmt.Errorf("persist deferred row: %w", err)
			}
			x.audit.Write(models.AuditEvent{
				OrgID: p.OrgID, PolicyID: p.ID, DeviceUUID: row.DeviceUUID,
				Action:  models.AuditRemediationDeferred,
				Details: auditDetails(map[string]any{"cooldown_until": until.Format(time.RFC3339)}),
			})
			recordDecision(ReasonCooldown)
			return res, nil
		}
	}

	row.RemediationStatus = models.RemediationInProgress
	row.LastRemediationAttempt = &now
	row.SetRemediationErrors(nil)
	if err := x.compliance.Save(ctx, row); err != nil {
		return nil, fmt.Errorf("mark in_progress: %w", err)
	}

	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("remediation panicked: %v", r)
			}
		}()
		return x.remediate(ctx, p, row, now, res)
	}()
	if err != nil {
		// Best-effort reset so the row is not stuck in in_progress, then
		// let the queue's retry policy take over.
		row.RemediationStatus = models.RemediationFailed
		row.SetRemediationErrors([]models.RemediationError{{Message: err.Error()}})
		if saveErr := x.compliance.Save(ctx, row); saveErr != nil {
			logs.Logger.Errorf("policy %s device %s: failed-state reset: %v", p.ID, job.DeviceID, saveErr)
		}
		return nil, err
	}
	return res, nil
}

func (x *Executor) remediate(ctx context.Context, p *models.SoftwarePolicy, row *models.SoftwareComplianceStatus, now time.Time, res *RemediateResult) error {
	violations := row.UnauthorizedViolations()
	if len(violations) == 0 {
		// The situation changed since scheduling.
		row.RemediationStatus = models.RemediationCompleted
		if err := x.compliance.Save(ctx, row); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		recordDecision(decisionNoViolations)
		return nil
	}

	inFlight, err := x.commands.RecentUninstallKeys(ctx, row.DeviceUUID, p.ID, now.Add(-inFlightWindow))
	if err != nil {
		return fmt.Errorf("load in-flight commands: %w", err)
	}

	var errs []models.RemediationError
	queued, deduped := 0, 0
	for _, v := range violations {
		key := v.Software.Key()
		if _, busy := inFlight[key]; busy {
			deduped++
			recordDecision(decisionCommandDeduped)
			continue
		}
		payload := models.UninstallPayload{
			SoftwareName:       v.Software.Name,
			SoftwareVersion:    v.Software.Version,
			PolicyID:           p.ID,
			ComplianceStatusID: row.ID,
			Source:             commandSource,
		}
		if dispatchErr := x.commands.DispatchUninstall(ctx, row.DeviceUUID, payload); dispatchErr != nil {
			errs = append(errs, models.RemediationError{SoftwareName: v.Software.Name, Message: dispatchErr.Error()})
			recordDecision(decisionCommandFailed)
			continue
		}
		inFlight[key] = struct{}{}
		queued++
		recordDecision(decisionCommandQueued)
	}

	switch {
	case queued > 0 || deduped > 0:
		// Work is outstanding until the next evaluation observes the result.
		row.RemediationStatus = models.RemediationPending
	case len(errs) > 0:
		row.RemediationStatus = models.RemediationFailed
	default:
		row.RemediationStatus = models.RemediationCompleted
	}
	row.SetRemediationErrors(errs)
	if err := x.compliance.Save(ctx, row); err != nil {
		return fmt.Errorf("persist remediation result: %w", err)
	}

	action := models.AuditRemediationQueued
	switch {
	case len(errs) > 0 && queued+deduped == 0:
		action = models.AuditRemediationFailed
	case len(errs) > 0:
		action = models.AuditRemediationPartial
	}
	x.audit.Write(models.AuditEvent{
		OrgID: p.OrgID, PolicyID: p.ID, DeviceUUID: row.DeviceUUID,
		Action:  action,
		Details: auditDetails(map[string]any{"queued": queued, "deduped": deduped, "errors": len(errs)}),
	})

	res.CommandsQueued = queued
	res.Errors = len(errs)
	logs.Logger.Infof("policy %s device %s: remediation queued=%d deduped=%d errors=%d",
		p.ID, row.DeviceUUID, queued, deduped, len(errs))
	return nil
}
