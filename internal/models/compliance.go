package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Compliance states.
const (
	ComplianceCompliant = "compliant"
	ComplianceViolation = "violation"
	ComplianceUnknown   = "unknown"
)

// Remediation states. Transitions only move forward except when compliance
// returns to compliant, which resets toward none/completed.
const (
	RemediationNone       = "none"
	RemediationPending    = "pending"
	RemediationInProgress = "in_progress"
	RemediationCompleted  = "completed"
	RemediationFailed     = "failed"
)

// Violation types.
const (
	ViolationUnauthorized = "unauthorized"
)

// SoftwareRef identifies one installed software item inside a violation.
type SoftwareRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Key returns the normalized `name::version` identity of the software,
// case- and whitespace-insensitive. It is the dedup key for violations and
// uninstall commands.
func (s SoftwareRef) Key() string {
	return SoftwareKey(s.Name, s.Version)
}

// SoftwareKey builds the normalized software identity key.
func SoftwareKey(name, version string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "::" + strings.ToLower(strings.TrimSpace(version))
}

// Violation is one detected mismatch between inventory and policy rules.
// DetectedAt is stable across scans: a violation matched in the previous row
// keeps its original detection time.
type Violation struct {
	Type       string      `json:"type"`
	Software   SoftwareRef `json:"software"`
	DetectedAt time.Time   `json:"detectedAt"`
}

// RemediationError is a per-software failure collected during remediation.
type RemediationError struct {
	SoftwareName string `json:"softwareName,omitempty"`
	Message      string `json:"message"`
}

// SoftwareComplianceStatus is the current compliance row for one
// (device, policy) pair. Exactly one row exists per pair; rows are never
// deleted by the pipeline.
type SoftwareComplianceStatus struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeviceUUID string `gorm:"uniqueIndex:idx_compliance_device_policy;size:64;not null" json:"device_uuid"`
	PolicyID   string `gorm:"uniqueIndex:idx_compliance_device_policy;size:36;not null" json:"policy_id"`
	OrgID      string `gorm:"index;size:36" json:"org_id"`

	Status                 string         `gorm:"size:32;not null" json:"status"`
	Violations             datatypes.JSON `json:"violations"`
	RemediationStatus      string         `gorm:"size:32;not null;default:none" json:"remediation_status"`
	LastRemediationAttempt *time.Time     `json:"last_remediation_attempt"`
	RemediationErrors      datatypes.JSON `json:"remediation_errors"`
	CheckedAt              time.Time      `json:"checked_at"`
}

// ViolationList decodes the violations column. An empty column yields nil.
func (s *SoftwareComplianceStatus) ViolationList() []Violation {
	if len(s.Violations) == 0 {
		return nil
	}
	var v []Violation
	if err := json.Unmarshal(s.Violations, &v); err != nil {
		return nil
	}
	return v
}

// SetViolations encodes the violation list into the JSON column.
func (s *SoftwareComplianceStatus) SetViolations(v []Violation) {
	if len(v) == 0 {
		s.Violations = datatypes.JSON("[]")
		return
	}
	b, _ := json.Marshal(v)
	s.Violations = datatypes.JSON(b)
}

// SetRemediationErrors encodes the error list; nil clears the column.
func (s *SoftwareComplianceStatus) SetRemediationErrors(errs []RemediationError) {
	if len(errs) == 0 {
		s.RemediationErrors = nil
		return
	}
	b, _ := json.Marshal(errs)
	s.RemediationErrors = datatypes.JSON(b)
}

// UnauthorizedViolations filters violations of type unauthorized,
// deduplicated by normalized software key.
func (s *SoftwareComplianceStatus) UnauthorizedViolations() []Violation {
	var out []Violation
	seen := map[string]bool{}
	for _, v := range s.ViolationList() {
		if v.Type != ViolationUnauthorized {
			continue
		}
		key := v.Software.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
