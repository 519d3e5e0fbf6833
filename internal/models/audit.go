package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions emitted by the policy pipeline.
const (
	AuditPolicyPrecedenceApplied = "policy_precedence_applied"
	AuditViolationDetected       = "violation_detected"
	AuditComplianceCheckFailed   = "compliance_check_failed"
	AuditRemediationScheduled    = "remediation_scheduled"
	AuditRemediationDeferred     = "remediation_deferred"
	AuditRemediationQueued       = "remediation_queued"
	AuditRemediationPartial      = "remediation_partial"
	AuditRemediationFailed       = "remediation_failed"
)

// ActorSystem marks events produced by the pipeline itself.
const ActorSystem = "system"

type AuditEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	OrgID      string         `gorm:"index;size:36" json:"org_id"`
	PolicyID   string         `gorm:"index;size:36" json:"policy_id"`
	DeviceUUID string         `gorm:"index;size:64" json:"device_uuid"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Actor      string         `gorm:"size:64;not null" json:"actor"`
	Details    datatypes.JSON `json:"details"`
}
