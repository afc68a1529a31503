package store

import (
	"context"
	"strings"
	"time"

	"intralink/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserStore struct {
	db  *gorm.DB
	now func() time.Time
}

func (s *Store) Users() *UserStore { return &UserStore{db: s.DB, now: s.clock} }

func (u *UserStore) Create(ctx context.Context, usr *domain.User) error {
	if usr.ID == uuid.Nil {
		usr.ID = uuid.New()
	}
	usr.Username = strings.ToLower(strings.TrimSpace(usr.Username))
	usr.Email = strings.ToLower(strings.TrimSpace(usr.Email))
	if usr.Role == "" {
		usr.Role = domain.RoleStaff
	}
	if usr.Status == "" {
		usr.Status = domain.UserActive
	}
	now := u.now()
	if usr.CreatedAt.IsZero() {
		usr.CreatedAt = now
	}
	usr.UpdatedAt = now
	return classify(u.db.WithContext(ctx).Create(usr).Error)
}

func (u *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &user, nil
}

func (u *UserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := u.db.WithContext(ctx).First(&user, "username = ?", strings.ToLower(strings.TrimSpace(username))).Error
	if err != nil {
		return nil, classify(err)
	}
	return &user, nil
}

func (u *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := u.db.WithContext(ctx).First(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, classify(err)
	}
	return &user, nil
}

// SetPresence writes the durable online flag and last-seen time.
func (u *UserStore) SetPresence(ctx context.Context, id uuid.UUID, online bool, at time.Time) error {
	res := u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_online": online, "last_seen": at.UTC()})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ResetPresence marks every user offline. Live connections do not survive a
// restart, so the flag is cleared at startup.
func (u *UserStore) ResetPresence(ctx context.Context) (int64, error) {
	res := u.db.WithContext(ctx).Model(&domain.User{}).
		Where("is_online = ?", true).
		Update("is_online", false)
	return res.RowsAffected, classify(res.Error)
}

func (u *UserStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.UserStatus) error {
	res := u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": u.now()})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// lockForUpdate takes a row lock on the user for the rest of the transaction.
// sqlite has no row locks and serializes writers already.
func (u *UserStore) lockForUpdate(ctx context.Context, id uuid.UUID) error {
	if u.db.Dialector.Name() != "postgres" {
		return nil
	}
	var user domain.User
	err := u.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&user, "id = ?", id).Error
	return classify(err)
}
