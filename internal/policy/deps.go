// Package policy implements the software policy compliance and remediation
// pipeline: scan scheduling, per-device evaluation, the auto-remediation
// decision, remediation dispatch and the compliance state machine.
package policy

import (
	"context"
	"time"

	"breeze/internal/models"
)

// Collaborators consumed by the pipeline. All are injected through
// constructors; gorm-backed defaults live in internal/repo.

// PolicyStore loads policies. Lookups return (nil, nil) for missing rows.
type PolicyStore interface {
	GetByID(ctx context.Context, id string) (*models.SoftwarePolicy, error)
	ListActive(ctx context.Context) ([]models.SoftwarePolicy, error)
}

// TargetResolver resolves the device set a policy governs for one run.
// `only`, when non-empty, restricts resolution to those devices. Shadowed
// devices (owned by a higher-precedence policy) are returned separately,
// keyed to the governing policy id.
type TargetResolver interface {
	Resolve(ctx context.Context, p *models.SoftwarePolicy, only []string) (effective []string, shadowed map[string]string, err error)
}

// InventoryLookup returns installed software per device uuid.
type InventoryLookup interface {
	InstalledSoftware(ctx context.Context, deviceUUIDs []string) (map[string][]models.DeviceSoftware, error)
}

// RuleEvaluator evaluates one device's inventory against a policy's rules.
// Detection timestamps are set to `now`; the evaluator reconciles them
// against the previous row afterwards.
type RuleEvaluator interface {
	Evaluate(p *models.SoftwarePolicy, installed []models.DeviceSoftware, now time.Time) ([]models.Violation, error)
}

// ComplianceStore persists compliance rows, one per (device, policy) pair.
// Lookups return (nil, nil) for missing rows; batch writes are chunked by
// the implementation.
type ComplianceStore interface {
	Get(ctx context.Context, policyID, deviceUUID string) (*models.SoftwareComplianceStatus, error)
	GetForDevices(ctx context.Context, policyID string, deviceUUIDs []string) (map[string]*models.SoftwareComplianceStatus, error)
	UpsertBatch(ctx context.Context, rows []*models.SoftwareComplianceStatus) error
	MarkPending(ctx context.Context, policyID string, deviceUUIDs []string, at time.Time) error
	Save(ctx context.Context, row *models.SoftwareComplianceStatus) error
}

// CommandDispatcher queues uninstall commands for agents and exposes the
// recent command history the executor dedups against. The history is
// re-derived from the store on every run so retried executors on other
// processes observe the same in-flight state.
type CommandDispatcher interface {
	DispatchUninstall(ctx context.Context, deviceUUID string, payload models.UninstallPayload) error
	RecentUninstallKeys(ctx context.Context, deviceUUID, policyID string, since time.Time) (map[string]struct{}, error)
}

// AuditWriter persists one audit event.
type AuditWriter interface {
	Write(ctx context.Context, ev models.AuditEvent) error
}

// RemediationQueuer schedules remediation jobs for the devices the
// evaluator selected. Returns the count actually enqueued.
type RemediationQueuer interface {
	Schedule(ctx context.Context, policyID string, deviceUUIDs []string) int
}
