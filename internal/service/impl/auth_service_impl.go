package impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"intralink/internal/domain"
	"intralink/internal/dto"
	"intralink/internal/fingerprint"
	"intralink/internal/jsondoc"
	"intralink/internal/netutil"
	"intralink/internal/observability/metrics"
	"intralink/internal/observability/middleware"
	"intralink/internal/service"
	"intralink/internal/store"
	"intralink/internal/syncx"

	"github.com/google/uuid"
)

const minPasswordLength = 8

// Notifier reaches a user's live connections: it delivers events and
// closes connections whose credential was revoked.
type Notifier interface {
	EmitToUser(userID uuid.UUID, ev domain.Event) int
	DisconnectUser(ctx context.Context, userID uuid.UUID) int
	DisconnectToken(ctx context.Context, jti string) int
}

type SessionConfig struct {
	RefreshTTL          time.Duration // lifetime of a remember-me session
	SimilarityThreshold float64       // fraction of coarse traits that must agree to flag drift
}

var _ service.AuthService = (*AuthServiceImpl)(nil)

type AuthServiceImpl struct {
	Store           *store.Store
	PasswordService service.PasswordService
	TService        service.TokenService
	Notifier        Notifier

	cfg     SessionConfig
	devices *syncx.KeyedMutex
}

func NewAuthServiceImpl(st *store.Store, passwords service.PasswordService, tokens service.TokenService, cfg SessionConfig) *AuthServiceImpl {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = fingerprint.DefaultThreshold
	}
	return &AuthServiceImpl{
		Store:           st,
		PasswordService: passwords,
		TService:        tokens,
		cfg:             cfg,
		devices:         syncx.NewKeyedMutex(),
	}
}

func (a *AuthServiceImpl) Register(ctx context.Context, r dto.RegisterRequest, actor *service.AccessClaims, dc service.DeviceContext) (*dto.UserResponse, error) {
	result := "error"
	defer func() { metrics.AuthRegistrationsTotal.WithLabelValues(result).Inc() }()

	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	if r.Username == "" {
		result = "invalid"
		return nil, ErrEmptyUsername
	}
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		result = "invalid"
		return nil, ErrEmptyEmail
	}
	if utf8.RuneCountInString(r.Password) < minPasswordLength {
		result = "invalid"
		return nil, ErrPasswordLength
	}
	role, err := domain.ParseRole(r.Role)
	if err != nil {
		result = "invalid"
		return nil, err
	}
	if role != domain.RoleStaff && (actor == nil || actor.Role != domain.RoleAdmin) {
		result = "forbidden"
		return nil, ErrRoleNotAllowed
	}

	hashed, err := a.PasswordService.Hash(r.Password)
	if err != nil {
		return nil, err
	}

	var (
		user *domain.User
		dept *domain.Department
	)
	err = a.Store.WithTx(ctx, func(tx *store.Store) error {
		if name := strings.TrimSpace(r.Department); name != "" {
			d, err := tx.Departments().Ensure(ctx, name)
			if err != nil {
				return err
			}
			dept = d
		}
		user = &domain.User{
			ID:        uuid.New(),
			Username:  r.Username,
			Email:     r.Email,
			FirstName: strings.TrimSpace(r.FirstName),
			LastName:  strings.TrimSpace(r.LastName),
			Role:      role,
			Status:    domain.UserActive,
		}
		if dept != nil {
			user.DepartmentID = &dept.ID
		}
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		return tx.Credentials().UpsertPassword(ctx, &domain.PasswordCredential{
			ID:          uuid.New(),
			UserID:      user.ID,
			Algo:        hashed.Algo,
			Hash:        hashed.Hash,
			Salt:        hashed.Salt,
			ParamsJSON:  hashed.ParamsJSON,
			PasswordVer: hashed.Version,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			result = "conflict"
			return nil, fmt.Errorf("%w: username or email already taken", domain.ErrConflict)
		}
		return nil, err
	}
	result = "success"

	meta := map[string]any{"role": role}
	if actor != nil {
		meta["by"] = actor.Subject
	}
	a.audit(ctx, &user.ID, domain.AuditRegister, meta, dc)
	slog.Info("user registered", append([]any{"user_id", user.ID, "role", role}, middleware.LogAttrs(ctx)...)...)

	resp := toUserResponse(user, dept)
	return &resp, nil
}

// Login checks the password, derives the device id and issues an access
// token. With RememberMe it also rotates the device session.
func (a *AuthServiceImpl) Login(ctx context.Context, r dto.LoginRequest, dc service.DeviceContext) (*dto.LoginResponse, error) {
	result := "error"
	defer func() { metrics.AuthLoginsTotal.WithLabelValues(result).Inc() }()

	login := strings.TrimSpace(r.Username)
	if login == "" || r.Password == "" {
		result = "invalid"
		return nil, ErrEmptyCredential
	}

	user, cred, err := a.lookupCredential(ctx, login)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		a.PasswordService.VerifyDummy(r.Password)
		result = "invalid_credentials"
		a.audit(ctx, nil, domain.AuditLoginFailed, map[string]any{"login": login}, dc)
		return nil, domain.ErrInvalidCredentials
	}

	rehash, ok := a.PasswordService.Verify(r.Password, cred)
	if !ok {
		result = "invalid_credentials"
		a.audit(ctx, &user.ID, domain.AuditLoginFailed, nil, dc)
		return nil, domain.ErrInvalidCredentials
	}
	if !user.Active() {
		result = "disabled"
		return nil, domain.ErrUserDisabled
	}
	if rehash {
		a.rehashPassword(ctx, cred, r.Password)
	}

	ua := netutil.TruncateUserAgent(dc.UserAgent)
	deviceID, attrs := fingerprint.Fingerprint(ua, dc.AcceptLanguage, r.Device)
	info := fingerprint.DeviceInfo(ua, dc.IP)

	issued, err := a.TService.Issue(ctx, user.ID, user.Role)
	if err != nil {
		metrics.TokensIssuedTotal.WithLabelValues("login", "error").Inc()
		return nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues("login", "success").Inc()

	resp := &dto.LoginResponse{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(issued.ExpiresAt.Sub(issued.IssuedAt).Seconds()),
		DeviceID:    deviceID,
		DeviceInfo:  info,
	}

	if r.RememberMe {
		sess, raw, err := a.rotateDeviceSession(ctx, user.ID, deviceID, attrs, info, ua)
		if err != nil {
			return nil, err
		}
		resp.SessionID = sess.ID.String()
		exp := sess.ExpiresAt
		resp.SessionExpiresAt = &exp
		resp.RefreshToken = raw
	}

	var dept *domain.Department
	if user.DepartmentID != nil {
		dept, _ = a.Store.Departments().GetByID(ctx, *user.DepartmentID)
	}
	resp.User = toUserResponse(user, dept)

	result = "success"
	a.audit(ctx, &user.ID, domain.AuditLogin, map[string]any{
		"device_id":   deviceID,
		"remember_me": r.RememberMe,
	}, dc)
	slog.Info("login succeeded", append([]any{
		"user_id", user.ID, "device_id", deviceID, "remember_me", r.RememberMe,
	}, middleware.LogAttrs(ctx)...)...)
	return resp, nil
}

func (a *AuthServiceImpl) lookupCredential(ctx context.Context, login string) (*domain.User, *domain.PasswordCredential, error) {
	var (
		user *domain.User
		err  error
	)
	if looksLikeEmail(login) {
		user, err = a.Store.Users().GetByEmail(ctx, login)
	} else {
		user, err = a.Store.Users().GetByUsername(ctx, login)
	}
	if err != nil {
		return nil, nil, err
	}
	cred, err := a.Store.Credentials().GetPasswordByUserID(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, cred, nil
}

// rehashPassword upgrades stored password material to the current policy.
// A failure leaves the old, still valid, hash in place.
func (a *AuthServiceImpl) rehashPassword(ctx context.Context, cred *domain.PasswordCredential, password string) {
	hashed, err := a.PasswordService.Hash(password)
	if err == nil {
		cred.Algo = hashed.Algo
		cred.Hash = hashed.Hash
		cred.Salt = hashed.Salt
		cred.ParamsJSON = hashed.ParamsJSON
		cred.PasswordVer = hashed.Version
		err = a.Store.Credentials().UpsertPassword(ctx, cred)
	}
	if err != nil {
		slog.Warn("password rehash failed", append([]any{"user_id", cred.UserID, "err", err}, middleware.LogAttrs(ctx)...)...)
	}
}

// rotateDeviceSession replaces any active session the user holds on the
// device. Logins for the same (user, device) are serialized in-process; the
// store transaction covers concurrent processes.
func (a *AuthServiceImpl) rotateDeviceSession(ctx context.Context, userID uuid.UUID, deviceID string, attrs fingerprint.Attributes, info fingerprint.Info, ua string) (*domain.DeviceSession, string, error) {
	unlock := a.devices.Lock(userID.String() + "/" + deviceID)
	defer unlock()

	traits := fingerprint.Traits(attrs)
	existing, err := a.Store.Sessions().FindActiveForDevice(ctx, userID, deviceID)
	if err != nil {
		return nil, "", err
	}
	if len(existing) == 0 {
		a.checkDrift(ctx, userID, deviceID, traits, info.IP)
	}

	traitsDoc, err := jsondoc.From(traits)
	if err != nil {
		return nil, "", err
	}
	sess, raw, replaced, err := a.Store.RotateDeviceSession(ctx, store.NewSession{
		UserID:     userID,
		DeviceID:   deviceID,
		DeviceName: info.Name,
		DeviceType: info.Type,
		Traits:     traitsDoc,
		IP:         info.IP,
		UserAgent:  ua,
		TTL:        a.cfg.RefreshTTL,
	})
	if err != nil {
		return nil, "", err
	}
	if replaced > 0 {
		metrics.SessionsRevokedTotal.WithLabelValues(domain.ReasonRotated).Add(float64(replaced))
	}
	return sess, raw, nil
}

// checkDrift flags a login from a new device id whose coarse traits match
// one of the user's active sessions, typically a browser upgrade. It never
// changes the outcome of the login.
func (a *AuthServiceImpl) checkDrift(ctx context.Context, userID uuid.UUID, deviceID string, traits fingerprint.Attributes, ip string) {
	sessions, err := a.Store.Sessions().ListActive(ctx, userID)
	if err != nil {
		return
	}
	for _, s := range sessions {
		var known fingerprint.Attributes
		if err := s.Traits.Decode(&known); err != nil {
			continue
		}
		if !fingerprint.Similar(traits, known, a.cfg.SimilarityThreshold) {
			continue
		}
		metrics.DeviceDriftTotal.Inc()
		slog.Info("device id drift", append([]any{
			"user_id", userID, "device_id", deviceID, "similar_to", s.DeviceID,
		}, middleware.LogAttrs(ctx)...)...)
		a.audit(ctx, &userID, domain.AuditDeviceDrift, map[string]any{
			"device_id":  deviceID,
			"similar_to": s.DeviceID,
		}, service.DeviceContext{IP: ip})
		return
	}
}

func (a *AuthServiceImpl) Me(ctx context.Context, userID domain.UserID) (*dto.UserResponse, error) {
	user, err := a.Store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	var dept *domain.Department
	if user.DepartmentID != nil {
		if dept, err = a.Store.Departments().GetByID(ctx, *user.DepartmentID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	resp := toUserResponse(user, dept)
	return &resp, nil
}

// audit records an entry; failures are logged and never fail the caller.
func (a *AuthServiceImpl) audit(ctx context.Context, userID *uuid.UUID, action string, meta map[string]any, dc service.DeviceContext) {
	entry := &domain.AuditLog{
		UserID:    userID,
		Action:    action,
		IP:        dc.IP,
		UserAgent: netutil.TruncateUserAgent(dc.UserAgent),
	}
	if len(meta) > 0 {
		doc, err := jsondoc.From(meta)
		if err == nil {
			entry.Metadata = doc
		}
	}
	if err := a.Store.Audit().Record(ctx, entry); err != nil {
		slog.Warn("audit write failed", append([]any{"action", action, "err", err}, middleware.LogAttrs(ctx)...)...)
	}
}

func (a *AuthServiceImpl) notify(userID uuid.UUID, ev domain.Event) {
	if a.Notifier != nil {
		a.Notifier.EmitToUser(userID, ev)
	}
}

// dropConnections closes the user's live connections after their sessions
// were revoked. The event is queued first so clients learn why.
func (a *AuthServiceImpl) dropConnections(ctx context.Context, userID uuid.UUID, ev domain.Event) {
	if a.Notifier == nil {
		return
	}
	a.Notifier.EmitToUser(userID, ev)
	if n := a.Notifier.DisconnectUser(ctx, userID); n > 0 {
		slog.Info("live connections closed", append([]any{"user_id", userID, "count", n}, middleware.LogAttrs(ctx)...)...)
	}
}

func looksLikeEmail(s string) bool {
	return strings.Contains(s, "@")
}

func toUserResponse(u *domain.User, dept *domain.Department) dto.UserResponse {
	resp := dto.UserResponse{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      string(u.Role),
		Status:    string(u.Status),
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen,
	}
	if dept != nil {
		name := dept.Name
		resp.Department = &name
	}
	return resp
}
