package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"intralink/internal/domain"
	"intralink/internal/dto"
	"intralink/internal/jwtsigner"
	"intralink/internal/presence"
	"intralink/internal/revocation"
	"intralink/internal/service"
	"intralink/internal/service/impl"
	"intralink/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testUA   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15"
	testPass = "correct horse battery"
)

type env struct {
	router   http.Handler
	st       *store.Store
	auth     *impl.AuthServiceImpl
	registry *presence.Registry
}

func newEnv(t *testing.T) *env {
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
	signer, err := jwtsigner.NewEd25519FromBase64("", "test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tokens := impl.NewTokenService(impl.TokenConfig{Issuer: "intralink", Audience: "intralink-clients", AccessTTL: 15 * time.Minute}, signer, revocation.NewMemory())
	passwords := impl.NewPasswordServiceArgon2id(impl.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	auth := impl.NewAuthServiceImpl(st, passwords, tokens, impl.SessionConfig{RefreshTTL: 24 * time.Hour})
	registry := presence.New(tokens, st.Users())
	auth.Notifier = registry
	t.Cleanup(func() { registry.Close(context.Background()) })

	router := NewRouter(Deps{
		Auth:     auth,
		Tokens:   tokens,
		Presence: registry,
		Signer:   signer,
	}, Options{
		CookieSecure:   false,
		LoginRateLimit: 1000,
	})
	return &env{router: router, st: st, auth: auth, registry: registry}
}

// seed registers a user directly through the service, bypassing the role gate.
func (e *env) seed(t *testing.T, username string, role domain.Role) *dto.UserResponse {
	t.Helper()
	u, err := e.auth.Register(context.Background(), dto.RegisterRequest{
		Username:   username,
		Email:      username + "@example.com",
		Password:   testPass,
		Department: "Engineering",
		Role:       string(role),
	}, &service.AccessClaims{Role: domain.RoleAdmin}, service.DeviceContext{})
	if err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return u
}

type call struct {
	method, path string
	body         any
	token        string
	cookies      []*http.Cookie
}

func (e *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&buf).Encode(c.body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", testUA)
	req.Header.Set("Accept-Language", "en-GB")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) login(t *testing.T, username string, remember bool) (*dto.LoginResponse, []*http.Cookie) {
	t.Helper()
	rec := e.do(t, call{method: http.MethodPost, path: "/api/auth/login", body: dto.LoginRequest{
		Username: username, Password: testPass, RememberMe: remember,
	}})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp dto.LoginResponse
	decode(t, rec, &resp)
	return &resp, rec.Result().Cookies()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
