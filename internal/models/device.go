package models

import (
	"time"

	"gorm.io/gorm"
)

// Device statuses.
const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
	DeviceStatusUnknown = "unknown"
)

type Device struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UUID       string     `gorm:"uniqueIndex;size:64;not null" json:"uuid"`
	OrgID      string     `gorm:"index;size:36;not null" json:"org_id"`
	Name       string     `gorm:"size:255" json:"name"`
	Status     string     `gorm:"size:64" json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at"`
}

// DeviceSoftware is one installed-software inventory row reported by the
// agent. The whole inventory for a device is replaced on each report.
type DeviceSoftware struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DeviceUUID string    `gorm:"index;size:64;not null" json:"device_uuid"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Version    string    `gorm:"size:128" json:"version"`
	ReportedAt time.Time `json:"reported_at"`
}
