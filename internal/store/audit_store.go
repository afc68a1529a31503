package store

import (
	"context"
	"time"

	"intralink/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditStore struct {
	db  *gorm.DB
	now func() time.Time
}

func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.DB, now: s.clock} }

func (a *AuditStore) Record(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}
	return classify(a.db.WithContext(ctx).Create(entry).Error)
}

// ListForUser returns the newest entries first.
func (a *AuditStore) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.AuditLog
	err := a.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}
