package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"breeze/internal/models"
)

type PolicyStore struct{ db *gorm.DB }

func NewPolicyStore(db *gorm.DB) *PolicyStore { return &PolicyStore{db: db} }

// GetByID returns (nil, nil) when the policy does not exist.
func (s *PolicyStore) GetByID(ctx context.Context, id string) (*models.SoftwarePolicy, error) {
	var p models.SoftwarePolicy
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PolicyStore) ListActive(ctx context.Context) ([]models.SoftwarePolicy, error) {
	var out []models.SoftwarePolicy
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&out).Error
	return out, err
}

func (s *PolicyStore) ListActiveByOrg(ctx context.Context, orgID string) ([]models.SoftwarePolicy, error) {
	var out []models.SoftwarePolicy
	err := s.db.WithContext(ctx).Where("org_id = ? AND is_active = ?", orgID, true).Find(&out).Error
	return out, err
}
