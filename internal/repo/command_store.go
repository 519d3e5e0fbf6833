package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"breeze/internal/models"
)

// CommandStore queues device commands for agents to poll and exposes the
// recent command history used for in-flight dedup.
type CommandStore struct{ db *gorm.DB }

func NewCommandStore(db *gorm.DB) *CommandStore { return &CommandStore{db: db} }

func (s *CommandStore) DispatchUninstall(ctx context.Context, deviceUUID string, payload models.UninstallPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal uninstall payload: %w", err)
	}
	cmd := models.DeviceCommand{
		ID:         uuid.NewString(),
		DeviceUUID: deviceUUID,
		Type:       models.CommandUninstallSoftware,
		Status:     models.CommandStatusPending,
		Source:     payload.Source,
		Payload:    datatypes.JSON(body),
	}
	if err := s.db.WithContext(ctx).Create(&cmd).Error; err != nil {
		return fmt.Errorf("create uninstall command: %w", err)
	}
	return nil
}

// RecentUninstallKeys returns the normalized software keys of uninstall
// commands created since `since` that are still pending or sent for this
// device and policy. Derived from the store, not memory, so concurrent
// executors observe the same in-flight state.
func (s *CommandStore) RecentUninstallKeys(ctx context.Context, deviceUUID, policyID string, since time.Time) (map[string]struct{}, error) {
	var cmds []models.DeviceCommand
	err := s.db.WithContext(ctx).
		Where("device_uuid = ? AND type = ? AND status IN ? AND created_at >= ?",
			deviceUUID, models.CommandUninstallSoftware,
			[]string{models.CommandStatusPending, models.CommandStatusSent}, since).
		Find(&cmds).Error
	if err != nil {
		return nil, fmt.Errorf("load recent commands: %w", err)
	}

	keys := map[string]struct{}{}
	for i := range cmds {
		p, err := cmds[i].UninstallDetails()
		if err != nil || p.PolicyID != policyID {
			continue
		}
		keys[models.SoftwareKey(p.SoftwareName, p.SoftwareVersion)] = struct{}{}
	}
	return keys, nil
}
