package impl

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"intralink/internal/domain"
	"intralink/internal/dto"
	"intralink/internal/jwtsigner"
	"intralink/internal/revocation"
	"intralink/internal/service"
	"intralink/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	testPass  = "correct horse battery"
)

var testArgon2 = Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type recordingNotifier struct {
	mu           sync.Mutex
	events       map[uuid.UUID][]domain.Event
	droppedUsers []uuid.UUID
	droppedJTIs  []string
}

func (n *recordingNotifier) DisconnectUser(_ context.Context, userID uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.droppedUsers = append(n.droppedUsers, userID)
	return 0
}

func (n *recordingNotifier) DisconnectToken(_ context.Context, jti string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.droppedJTIs = append(n.droppedJTIs, jti)
	return 0
}

func (n *recordingNotifier) dropped() ([]uuid.UUID, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uuid.UUID(nil), n.droppedUsers...), append([]string(nil), n.droppedJTIs...)
}

func (n *recordingNotifier) EmitToUser(userID uuid.UUID, ev domain.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.events == nil {
		n.events = make(map[uuid.UUID][]domain.Event)
	}
	n.events[userID] = append(n.events[userID], ev)
	return 1
}

func (n *recordingNotifier) For(userID uuid.UUID) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Event(nil), n.events[userID]...)
}

type fixture struct {
	st       *store.Store
	auth     *AuthServiceImpl
	tokens   *TokenServiceImpl
	revoked  *revocation.Memory
	notifier *recordingNotifier
}

func setup(t *testing.T) *fixture {
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

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	signer, err := jwtsigner.NewHMAC([]byte(strings.Repeat("k", 32)), "test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	revoked := revocation.NewMemory()
	tokens := NewTokenService(TokenConfig{Issuer: "intralink", Audience: "intralink-clients", AccessTTL: 15 * time.Minute}, signer, revoked)
	auth := NewAuthServiceImpl(st, NewPasswordServiceArgon2id(testArgon2), tokens, SessionConfig{RefreshTTL: 30 * 24 * time.Hour})
	notifier := &recordingNotifier{}
	auth.Notifier = notifier

	return &fixture{st: st, auth: auth, tokens: tokens, revoked: revoked, notifier: notifier}
}

func (f *fixture) register(t *testing.T, username string) *dto.UserResponse {
	t.Helper()
	u, err := f.auth.Register(context.Background(), dto.RegisterRequest{
		Username:   username,
		Email:      username + "@example.com",
		Password:   testPass,
		Department: "Engineering",
	}, nil, service.DeviceContext{})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

// device returns a request context whose fingerprint differs per timezone.
func device(tz string) service.DeviceContext {
	dc := service.DeviceContext{IP: "203.0.113.7", UserAgent: firefoxUA, AcceptLanguage: "en-US,en;q=0.9"}
	dc.Client.Timezone = tz
	return dc
}

func (f *fixture) login(t *testing.T, username string, remember bool, dc service.DeviceContext) *dto.LoginResponse {
	t.Helper()
	resp, err := f.auth.Login(context.Background(), dto.LoginRequest{
		Username:   username,
		Password:   testPass,
		RememberMe: remember,
		Device:     dc.Client,
	}, dc)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return resp
}

func mustParse(t *testing.T, id string) uuid.UUID {
	t.Helper()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", id, err)
	}
	return u
}

func hasAction(logs []domain.AuditLog, action string) bool {
	for _, l := range logs {
		if l.Action == action {
			return true
		}
	}
	return false
}
