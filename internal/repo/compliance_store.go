package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"breeze/internal/models"
)

// chunkSize bounds the row count per statement for batch writes and IN
// queries.
const chunkSize = 500

type ComplianceStore struct{ db *gorm.DB }

func NewComplianceStore(db *gorm.DB) *ComplianceStore { return &ComplianceStore{db: db} }

// Get returns (nil, nil) when no row exists for the pair.
func (s *ComplianceStore) Get(ctx context.Context, policyID, deviceUUID string) (*models.SoftwareComplianceStatus, error) {
	var row models.SoftwareComplianceStatus
	err := s.db.WithContext(ctx).
		Where("policy_id = ? AND device_uuid = ?", policyID, deviceUUID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetForDevices loads the current rows for a policy, keyed by device uuid.
func (s *ComplianceStore) GetForDevices(ctx context.Context, policyID string, deviceUUIDs []string) (map[string]*models.SoftwareComplianceStatus, error) {
	out := make(map[string]*models.SoftwareComplianceStatus, len(deviceUUIDs))
	for start := 0; start < len(deviceUUIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(deviceUUIDs) {
			end = len(deviceUUIDs)
		}
		var rows []models.SoftwareComplianceStatus
		err := s.db.WithContext(ctx).
			Where("policy_id = ? AND device_uuid IN ?", policyID, deviceUUIDs[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("load compliance rows: %w", err)
		}
		for i := range rows {
			out[rows[i].DeviceUUID] = &rows[i]
		}
	}
	return out, nil
}

// UpsertBatch writes rows in chunks, keyed on the (device_uuid, policy_id)
// unique index so repeated scans never duplicate a pair.
func (s *ComplianceStore) UpsertBatch(ctx context.Context, rows []*models.SoftwareComplianceStatus) error {
	now := time.Now().UTC()
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		for _, r := range chunk {
			r.UpdatedAt = now
			if r.CreatedAt.IsZero() {
				r.CreatedAt = now
			}
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "device_uuid"}, {Name: "policy_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "violations", "remediation_status",
				"last_remediation_attempt", "remediation_errors",
				"checked_at", "updated_at",
			}),
		}).Create(&chunk).Error
		if err != nil {
			return fmt.Errorf("upsert compliance chunk: %w", err)
		}
	}
	return nil
}

// MarkPending flips rows to remediation pending after jobs were scheduled.
// The attempt timestamp is not touched here; the executor owns it, and
// setting it at scheduling time would trip its cooldown check.
func (s *ComplianceStore) MarkPending(ctx context.Context, policyID string, deviceUUIDs []string, at time.Time) error {
	for start := 0; start < len(deviceUUIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(deviceUUIDs) {
			end = len(deviceUUIDs)
		}
		err := s.db.WithContext(ctx).
			Model(&models.SoftwareComplianceStatus{}).
			Where("policy_id = ? AND device_uuid IN ?", policyID, deviceUUIDs[start:end]).
			Updates(map[string]any{
				"remediation_status": models.RemediationPending,
				"updated_at":         at,
			}).Error
		if err != nil {
			return fmt.Errorf("mark pending chunk: %w", err)
		}
	}
	return nil
}

func (s *ComplianceStore) Save(ctx context.Context, row *models.SoftwareComplianceStatus) error {
	return s.db.WithContext(ctx).Save(row).Error
}
