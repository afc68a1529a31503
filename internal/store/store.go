package store

import (
	"context"
	"fmt"
	"time"

	"intralink/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	DB *gorm.DB
	// Now is the clock used for every timestamp the store writes or compares.
	Now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

// Open connects to postgres or sqlite depending on driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", domain.ErrValidation, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, classify(err)
	}
	return db, nil
}

func Models() []any {
	return []any{
		&domain.Department{},
		&domain.User{},
		&domain.PasswordCredential{},
		&domain.DeviceSession{},
		&domain.AuditLog{},
	}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return classify(s.DB.WithContext(ctx).AutoMigrate(Models()...))
}

// WithTx runs fn inside a transaction. Errors returned by fn pass through
// untouched; begin and commit failures are classified.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	var fnErr error
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Store{DB: tx, Now: s.Now})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return classify(err)
	}
	return err
}

// clock returns the current time in UTC at the precision every supported
// database keeps, so values read back compare equal to values written.
func (s *Store) clock() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Truncate(time.Microsecond)
}
