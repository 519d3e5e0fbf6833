package repo

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"breeze/internal/models"
)

type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

func (s *DeviceStore) ListUUIDsByOrg(ctx context.Context, orgID string) ([]string, error) {
	var uuids []string
	err := s.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("org_id = ?", orgID).
		Pluck("uuid", &uuids).Error
	return uuids, err
}

// InstalledSoftware returns the reported inventory per device uuid. Devices
// with no inventory rows are simply absent from the map.
func (s *DeviceStore) InstalledSoftware(ctx context.Context, deviceUUIDs []string) (map[string][]models.DeviceSoftware, error) {
	out := make(map[string][]models.DeviceSoftware, len(deviceUUIDs))
	for start := 0; start < len(deviceUUIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(deviceUUIDs) {
			end = len(deviceUUIDs)
		}
		var rows []models.DeviceSoftware
		err := s.db.WithContext(ctx).
			Where("device_uuid IN ?", deviceUUIDs[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("load inventory: %w", err)
		}
		for _, r := range rows {
			out[r.DeviceUUID] = append(out[r.DeviceUUID], r)
		}
	}
	return out, nil
}
