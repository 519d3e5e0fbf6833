package policy

import (
	"context"
	"fmt"
	"time"

	"breeze/internal/logs"
	"breeze/internal/models"

	"github.com/google/uuid"
)

// CheckJob is the payload of a check-policy evaluation job.
type CheckJob struct {
	PolicyID  string   `json:"policyId"`
	DeviceIDs []string `json:"deviceIds,omitempty"`
}

// CheckResult summarizes one evaluation run.
type CheckResult struct {
	PolicyID          string `json:"policyId"`
	DevicesEvaluated  int    `json:"devicesEvaluated"`
	Violations        int    `json:"violations"`
	RemediationQueued int    `json:"remediationQueued"`
}

// Evaluator consumes evaluation jobs: it resolves the policy's device set,
// evaluates inventory against the rules, updates compliance rows and selects
// devices for remediation. Per-device failures are isolated; only policy and
// target resolution failures abort the job.
type Evaluator struct {
	policies    PolicyStore
	targets     TargetResolver
	inventory   InventoryLookup
	rules       RuleEvaluator
	compliance  ComplianceStore
	remediation RemediationQueuer
	audit       *AuditLog

	now func() time.Time
}

func NewEvaluator(
	policies PolicyStore,
	targets TargetResolver,
	inventory InventoryLookup,
	rules RuleEvaluator,
	compliance ComplianceStore,
	remediation RemediationQueuer,
	audit *AuditLog,
) *Evaluator {
	return &Evaluator{
		policies:    policies,
		targets:     targets,
		inventory:   inventory,
		rules:       rules,
		compliance:  compliance,
		remediation: remediation,
		audit:       audit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (e *Evaluator) HandleCheck(ctx context.Context, job CheckJob) (*CheckResult, error) {
	res := &CheckResult{PolicyID: job.PolicyID}

	p, err := e.policies.GetByID(ctx, job.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", job.PolicyID, err)
	}
	if p == nil || !p.IsActive {
		return res, nil
	}

	effective, shadowed, err := e.targets.Resolve(ctx, p, job.DeviceIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve targets for policy %s: %w", p.ID, err)
	}
	if len(effective) == 0 && len(shadowed) == 0 {
		return res, nil
	}

	all := make([]string, 0, len(effective)+len(shadowed))
	all = append(all, effective...)
	for dev := range shadowed {
		all = append(all, dev)
	}
	prior, err := e.compliance.GetForDevices(ctx, p.ID, all)
	if err != nil {
		return nil, fmt.Errorf("load compliance rows for policy %s: %w", p.ID, err)
	}

	inv, err := e.inventory.InstalledSoftware(ctx, effective)
	if err != nil {
		return nil, fmt.Errorf("load inventory for policy %s: %w", p.ID, err)
	}

	now := e.now()
	opts := p.Remediation()
	rows := make([]*models.SoftwareComplianceStatus, 0, len(all))
	var targets []string

	// Shadowed devices are owned by a higher-precedence policy this run.
	for dev, governing := range shadowed {
		row := rowFor(prior, p, dev)
		row.Status = models.ComplianceUnknown
		row.RemediationStatus = models.RemediationNone
		row.SetViolations(nil)
		row.CheckedAt = now
		rows = append(rows, row)
		e.audit.Write(models.AuditEvent{
			OrgID: p.OrgID, PolicyID: p.ID, DeviceUUID: dev,
			Action:  models.AuditPolicyPrecedenceApplied,
			Details: auditDetails(map[string]any{"governing_policy_id": governing}),
		})
		observeEvaluation(p.Mode, models.ComplianceUnknown, reasonShadowed, 0)
	}

	for _, dev := range effective {
		start := time.Now()
		row := rowFor(prior, p, dev)
		fresh, evalErr := e.evaluateDevice(p, row, inv[dev], now)
		if evalErr != nil {
			row.Status = models.ComplianceUnknown
			row.CheckedAt = now
			rows = append(rows, row)
			res.DevicesEvaluated++
			e.audit.Write(models.AuditEvent{
				OrgID: p.OrgID, PolicyID: p.ID, DeviceUUID: dev,
				Action:  models.AuditComplianceCheckFailed,
				Details: auditDetails(map[string]any{"error": evalErr.Error()}),
			})
			observeEvaluation(p.Mode, models.ComplianceUnknown, reasonError, time.Since(start))
			logs.Logger.Warnf("policy %s device %s: evaluation failed: %v", p.ID, dev, evalErr)
			continue
		}

		rows = append(rows, row)
		res.DevicesEvaluated++
		violations := row.ViolationList()
		res.Violations += len(violations)
		addViolations(p.Mode, len(violations))
		observeEvaluation(p.Mode, row.Status, reasonEvaluated, time.Since(start))

		if fresh > 0 {
			e.audit.Write(models.AuditEvent{
				OrgID: p.OrgID, PolicyID: p.ID, DeviceUUID: dev,
				Action:  models.AuditViolationDetected,
				Details: auditDetails(map[string]any{"new": fresh, "total": len(violations)}),
			})
		}

		if row.Status == models.ComplianceViolation && eligibleForRemediation(p, opts, violations) {
			d := ShouldQueueAutoRemediation(DecisionInput{
				Violations:                violations,
				PreviousRemediationStatus: row.RemediationStatus,
				LastRemediationAttempt:    row.LastRemediationAttempt,
				Now:                       now,
				GracePeriodHours:          opts.GracePeriodHours,
				CooldownMinutes:           opts.CooldownMinutes,
			})
			recordDecision(d.Reason)
			if d.Queue {
				targets = append(targets, dev)
			}
		}
	}

	if err := e.compliance.UpsertBatch(ctx, rows); err != nil {
		return nil, fmt.Errorf("upsert compliance rows for policy %s: %w", p.ID, err)
	}

	if len(targets) > 0 {
		queued := e.remediation.Schedule(ctx, p.ID, targets)
		res.RemediationQueued = queued
		if err := e.compliance.MarkPending(ctx, p.ID, targets, now); err != nil {
			return nil, fmt.Errorf("mark remediation pending for policy %s: %w", p.ID, err)
		}
		e.audit.Write(models.AuditEvent{
			OrgID: p.OrgID, PolicyID: p.ID,
			Action:  models.AuditRemediationScheduled,
			Details: auditDetails(map[string]any{"devices": len(targets), "queued": queued}),
		})
	}

	logs.Logger.Infof("policy %s: evaluated=%d violations=%d remediation_queued=%d",
		p.ID, res.DevicesEvaluated, res.Violations, res.RemediationQueued)
	return res, nil
}

// evaluateDevice computes the next compliance state for one device in place.
// Returns the number of violations not present in the previous row.
func (e *Evaluator) evaluateDevice(p *models.SoftwarePolicy, row *models.SoftwareComplianceStatus, installed []models.DeviceSoftware, now time.Time) (int, error) {
	candidates, err := e.rules.Evaluate(p, installed, now)
	if err != nil {
		return 0, err
	}

	violations, fresh := reconcileDetectedAt(candidates, row.ViolationList())
	row.SetViolations(violations)
	row.CheckedAt = now

	if len(violations) > 0 {
		row.Status = models.ComplianceViolation
		// A fresh violation after a finished remediation starts the state
		// machine over.
		if row.RemediationStatus == models.RemediationCompleted {
			row.RemediationStatus = models.RemediationNone
		}
	} else {
		row.Status = models.ComplianceCompliant
		switch row.RemediationStatus {
		case models.RemediationNone:
		case models.RemediationCompleted:
			row.RemediationStatus = models.RemediationNone
		default:
			row.RemediationStatus = models.RemediationCompleted
		}
	}
	return fresh, nil
}

// reconcileDetectedAt carries the original detection time forward for
// violations already present in the previous row. Grace-period arithmetic
// depends on this stability across repeated scans.
func reconcileDetectedAt(candidates, prior []models.Violation) ([]models.Violation, int) {
	prev := make(map[string]time.Time, len(prior))
	for _, v := range prior {
		key := v.Type + "|" + v.Software.Key()
		if t, ok := prev[key]; !ok || v.DetectedAt.Before(t) {
			prev[key] = v.DetectedAt
		}
	}

	fresh := 0
	out := make([]models.Violation, 0, len(candidates))
	for _, v := range candidates {
		if t, ok := prev[v.Type+"|"+v.Software.Key()]; ok {
			v.DetectedAt = t
		} else {
			fresh++
		}
		out = append(out, v)
	}
	return out, fresh
}

func eligibleForRemediation(p *models.SoftwarePolicy, opts models.RemediationOptions, violations []models.Violation) bool {
	if !p.EnforceMode || p.Mode == models.PolicyModeAudit || !opts.AutoUninstall {
		return false
	}
	for _, v := range violations {
		if v.Type == models.ViolationUnauthorized {
			return true
		}
	}
	return false
}

func rowFor(prior map[string]*models.SoftwareComplianceStatus, p *models.SoftwarePolicy, dev string) *models.SoftwareComplianceStatus {
	if row, ok := prior[dev]; ok && row != nil {
		return row
	}
	return &models.SoftwareComplianceStatus{
		ID:                uuid.NewString(),
		DeviceUUID:        dev,
		PolicyID:          p.ID,
		OrgID:             p.OrgID,
		Status:            models.ComplianceUnknown,
		RemediationStatus: models.RemediationNone,
	}
}
