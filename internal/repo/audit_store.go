package repo

import (
	"context"

	"gorm.io/gorm"

	"breeze/internal/models"
)

type AuditStore struct{ db *gorm.DB }

func NewAuditStore(db *gorm.DB) *AuditStore { return &AuditStore{db: db} }

func (s *AuditStore) Write(ctx context.Context, ev models.AuditEvent) error {
	return s.db.WithContext(ctx).Create(&ev).Error
}
