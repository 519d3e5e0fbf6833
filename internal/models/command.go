package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Command types and statuses. Commands are written by the server and polled
// by agents; pending/sent commands count as in-flight for dedup purposes.
const (
	CommandUninstallSoftware = "uninstall_software"

	CommandStatusPending = "pending"
	CommandStatusSent    = "sent"
	CommandStatusDone    = "done"
	CommandStatusFailed  = "failed"
)

type DeviceCommand struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeviceUUID string         `gorm:"index;size:64;not null" json:"device_uuid"`
	Type       string         `gorm:"size:64;not null" json:"type"`
	Status     string         `gorm:"index;size:32;not null" json:"status"`
	Source     string         `gorm:"size:64" json:"source"`
	Payload    datatypes.JSON `json:"payload"`
}

// UninstallPayload is the payload of an uninstall_software command.
type UninstallPayload struct {
	SoftwareName       string `json:"softwareName"`
	SoftwareVersion    string `json:"softwareVersion"`
	PolicyID           string `json:"policyId"`
	ComplianceStatusID string `json:"complianceStatusId"`
	Source             string `json:"source"`
}

// UninstallDetails decodes the payload of an uninstall command.
func (c *DeviceCommand) UninstallDetails() (UninstallPayload, error) {
	var p UninstallPayload
	err := json.Unmarshal(c.Payload, &p)
	return p, err
}
