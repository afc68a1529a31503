package store

import (
	"context"
	"strings"
	"time"

	"intralink/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DepartmentStore struct {
	db  *gorm.DB
	now func() time.Time
}

func (s *Store) Departments() *DepartmentStore { return &DepartmentStore{db: s.DB, now: s.clock} }

func (d *DepartmentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Department, error) {
	var dept domain.Department
	if err := d.db.WithContext(ctx).First(&dept, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &dept, nil
}

// Ensure returns the department with the given name, creating it when missing.
func (d *DepartmentStore) Ensure(ctx context.Context, name string) (*domain.Department, error) {
	name = strings.TrimSpace(name)
	dept := domain.Department{ID: uuid.New(), Name: name, CreatedAt: d.now()}
	err := d.db.WithContext(ctx).
		Where(domain.Department{Name: name}).
		Attrs(dept).
		FirstOrCreate(&dept).Error
	if err != nil {
		return nil, classify(err)
	}
	return &dept, nil
}
