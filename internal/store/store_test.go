package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"intralink/internal/domain"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	st := New(db)
	st.Now = clock.Now
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return st, clock
}

func seedUser(t *testing.T, st *Store, username string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, Email: username + "@example.com", Role: domain.RoleStaff}
	if err := st.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func newSession(userID uuid.UUID, device string) NewSession {
	return NewSession{
		UserID:     userID,
		DeviceID:   device,
		DeviceName: "Other - Firefox on Linux",
		DeviceType: domain.DeviceDesktop,
		IP:         "203.0.113.7",
		UserAgent:  "unit-test",
		TTL:        30 * 24 * time.Hour,
	}
}

func TestUserStoreCreateConflict(t *testing.T) {
	st, _ := setupStore(t)
	ctx := context.Background()
	seedUser(t, st, "alice")

	err := st.Users().Create(ctx, &domain.User{Username: "Alice", Email: "other@example.com"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for duplicate username, got %v", err)
	}
	if _, err := st.Users().GetByUsername(ctx, "nobody"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
	if !errors.Is(ErrRecordNotFound, domain.ErrNotFound) {
		t.Fatalf("store not-found must map onto the domain error")
	}
}

func TestUserStorePresence(t *testing.T) {
	st, clock := setupStore(t)
	ctx := context.Background()
	u := seedUser(t, st, "bob")

	if err := st.Users().SetPresence(ctx, u.ID, true, clock.Now()); err != nil {
		t.Fatalf("set presence: %v", err)
	}
	got, err := st.Users().GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsOnline || got.LastSeen == nil || !got.LastSeen.Equal(clock.Now()) {
		t.Fatalf("unexpected presence state: online=%v last_seen=%v", got.IsOnline, got.LastSeen)
	}
	n, err := st.Users().ResetPresence(ctx)
	if err != nil || n != 1 {
		t.Fatalf("reset presence: n=%d err=%v", n, err)
	}
	if err := st.Users().SetPresence(ctx, uuid.New(), true, clock.Now()); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func TestDepartmentEnsureIsIdempotent(t *testing.T) {
	st, _ := setupStore(t)
	ctx := context.Background()
	a, err := st.Departments().Ensure(ctx, "Engineering")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	b, err := st.Departments().Ensure(ctx, "Engineering")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same department, got %s and %s", a.ID, b.ID)
	}
}

func TestAuditRecordAndList(t *testing.T) {
	st, clock := setupStore(t)
	ctx := context.Background()
	u := seedUser(t, st, "carol")

	for _, action := range []string{domain.AuditLogin, domain.AuditLogout} {
		if err := st.Audit().Record(ctx, &domain.AuditLog{UserID: &u.ID, Action: action}); err != nil {
			t.Fatalf("record: %v", err)
		}
		clock.Advance(time.Second)
	}
	entries, err := st.Audit().ListForUser(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != domain.AuditLogout {
		t.Fatalf("expected newest first, got %+v", entries)
	}
}
