package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Policy modes.
const (
	PolicyModeAllowlist = "allowlist" // only listed software permitted
	PolicyModeBlocklist = "blocklist" // listed software forbidden
	PolicyModeAudit     = "audit"     // detect only, never remediate
)

// SoftwarePolicy describes what software is allowed on a set of devices and
// how violations are remediated. Rules and remediation options live in JSON
// columns; remediation options are decoded through RemediationOptions so
// defaulting/clamping happens in one place.
type SoftwarePolicy struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrgID       string `gorm:"index;size:36;not null" json:"org_id"`
	Name        string `gorm:"size:255" json:"name"`
	Mode        string `gorm:"size:32;not null" json:"mode"`
	EnforceMode bool   `json:"enforce_mode"`

	// Precedence decides which policy governs a device targeted by several
	// active policies; higher wins, ties go to the older policy.
	Precedence int `gorm:"default:0" json:"precedence"`

	Rules              datatypes.JSON `json:"rules"`
	TargetAll          bool           `json:"target_all"`
	TargetDeviceUUIDs  datatypes.JSON `json:"target_device_uuids"`
	RemediationOptions datatypes.JSON `json:"remediation_options"`

	IsActive bool `gorm:"index" json:"is_active"`
}

// SoftwareRule matches installed software by name pattern (exact or with `*`
// wildcards, case-insensitive) and an optional version pin.
type SoftwareRule struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// RemediationOptions is the typed form of SoftwarePolicy.RemediationOptions.
type RemediationOptions struct {
	AutoUninstall    bool `json:"autoUninstall"`
	GracePeriodHours int  `json:"gracePeriodHours"`
	CooldownMinutes  int  `json:"cooldownMinutes"`
}

// Bounds and defaults for remediation options.
const (
	GracePeriodHoursMax    = 2160
	CooldownMinutesMin     = 1
	CooldownMinutesMax     = 129600
	CooldownMinutesDefault = 120
)

// RuleList decodes the policy's rule set. An empty column yields no rules.
func (p *SoftwarePolicy) RuleList() ([]SoftwareRule, error) {
	if len(p.Rules) == 0 {
		return nil, nil
	}
	var rules []SoftwareRule
	if err := json.Unmarshal(p.Rules, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// TargetUUIDs decodes the explicit device targeting list.
func (p *SoftwarePolicy) TargetUUIDs() ([]string, error) {
	if len(p.TargetDeviceUUIDs) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(p.TargetDeviceUUIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Remediation decodes the remediation option bag, applying defaults for
// absent fields and clamping out-of-range values. Malformed JSON falls back
// to the defaults rather than failing the evaluation.
func (p *SoftwarePolicy) Remediation() RemediationOptions {
	opts := RemediationOptions{
		AutoUninstall:   true,
		CooldownMinutes: CooldownMinutesDefault,
	}
	if len(p.RemediationOptions) > 0 {
		var raw struct {
			AutoUninstall    *bool `json:"autoUninstall"`
			GracePeriodHours *int  `json:"gracePeriodHours"`
			CooldownMinutes  *int  `json:"cooldownMinutes"`
		}
		if err := json.Unmarshal(p.RemediationOptions, &raw); err == nil {
			if raw.AutoUninstall != nil {
				opts.AutoUninstall = *raw.AutoUninstall
			}
			if raw.GracePeriodHours != nil {
				opts.GracePeriodHours = *raw.GracePeriodHours
			}
			if raw.CooldownMinutes != nil {
				opts.CooldownMinutes = *raw.CooldownMinutes
			}
		}
	}
	if opts.GracePeriodHours < 0 {
		opts.GracePeriodHours = 0
	}
	if opts.GracePeriodHours > GracePeriodHoursMax {
		opts.GracePeriodHours = GracePeriodHoursMax
	}
	if opts.CooldownMinutes < CooldownMinutesMin {
		opts.CooldownMinutes = CooldownMinutesMin
	}
	if opts.CooldownMinutes > CooldownMinutesMax {
		opts.CooldownMinutes = CooldownMinutesMax
	}
	return opts
}

// GracePeriod returns the grace period as a duration.
func (o RemediationOptions) GracePeriod() time.Duration {
	return time.Duration(o.GracePeriodHours) * time.Hour
}

// Cooldown returns the cooldown as a duration.
func (o RemediationOptions) Cooldown() time.Duration {
	return time.Duration(o.CooldownMinutes) * time.Minute
}
