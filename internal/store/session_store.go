package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"intralink/internal/domain"
	"intralink/internal/jsondoc"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	refreshTokenBytes  = 64
	sessionSecretBytes = 32
)

var (
	active  = string(domain.SessionActive)
	revoked = string(domain.SessionRevoked)
	expired = string(domain.SessionExpired)
)

type SessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.DB, now: s.clock} }

// NewSession describes the session CreateSession persists.
type NewSession struct {
	UserID     uuid.UUID
	DeviceID   string
	DeviceName string
	DeviceType domain.DeviceType
	Traits     jsondoc.JSON
	IP         string
	UserAgent  string
	Location   string
	TTL        time.Duration
}

// HashRefreshToken is the one-way digest stored in place of the raw token.
func HashRefreshToken(token, secret string) string {
	sum := sha256.Sum256([]byte(token + ":" + secret))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(raw, secret, storedHash string) bool {
	computed := HashRefreshToken(raw, secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return buf, nil
}

// CreateSession persists an active session and returns the raw refresh
// token. The raw value exists only in the return; the row keeps its hash.
func (ss *SessionStore) CreateSession(ctx context.Context, in NewSession) (*domain.DeviceSession, string, error) {
	if in.UserID == uuid.Nil || in.DeviceID == "" {
		return nil, "", fmt.Errorf("%w: user and device are required", domain.ErrValidation)
	}
	if in.TTL <= 0 {
		return nil, "", fmt.Errorf("%w: session ttl must be positive", domain.ErrValidation)
	}
	tokenBytes, err := randomBytes(refreshTokenBytes)
	if err != nil {
		return nil, "", err
	}
	secretBytes, err := randomBytes(sessionSecretBytes)
	if err != nil {
		return nil, "", err
	}
	raw := base64.RawURLEncoding.EncodeToString(tokenBytes)
	secret := hex.EncodeToString(secretBytes)

	deviceType := in.DeviceType
	if deviceType == "" {
		deviceType = domain.DeviceUnknown
	}
	now := ss.now()
	sess := &domain.DeviceSession{
		ID:               uuid.New(),
		UserID:           in.UserID,
		DeviceID:         in.DeviceID,
		DeviceName:       in.DeviceName,
		DeviceType:       deviceType,
		UserAgent:        in.UserAgent,
		IPAddress:        in.IP,
		Location:         in.Location,
		Traits:           in.Traits,
		RefreshTokenHash: HashRefreshToken(raw, secret),
		SessionSecret:    secret,
		Status:           domain.SessionActive,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(in.TTL),
	}
	if err := ss.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, "", classify(err)
	}
	return sess, raw, nil
}

// VerifyRefreshToken finds the active, unexpired session on deviceID whose
// hash matches rawToken and marks it used. A non-empty ip is recorded too.
//
// The touch re-checks status and expiry at write time, so a session revoked
// or swept between the read and the write is reported as invalid rather
// than written back as used.
func (ss *SessionStore) VerifyRefreshToken(ctx context.Context, rawToken, deviceID, ip string) (*domain.DeviceSession, error) {
	if rawToken == "" || deviceID == "" {
		return nil, domain.ErrInvalidCredentials
	}
	now := ss.now()
	var candidates []domain.DeviceSession
	err := ss.db.WithContext(ctx).
		Where("device_id = ? AND status = ? AND expires_at > ?", deviceID, active, now).
		Find(&candidates).Error
	if err != nil {
		return nil, classify(err)
	}
	if len(candidates) == 0 {
		return nil, domain.ErrDeviceMismatch
	}
	for i := range candidates {
		c := &candidates[i]
		if !tokenMatches(rawToken, c.SessionSecret, c.RefreshTokenHash) {
			continue
		}
		ok, err := ss.touch(ctx, c.ID, ip, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrInvalidCredentials
		}
		if now.After(c.LastUsedAt) {
			c.LastUsedAt = now
		}
		if ip != "" {
			c.IPAddress = ip
		}
		return c, nil
	}
	return nil, domain.ErrInvalidCredentials
}

// Touch records activity on a usable session. last_used_at never moves backwards.
func (ss *SessionStore) Touch(ctx context.Context, id uuid.UUID, ip string) (bool, error) {
	return ss.touch(ctx, id, ip, ss.now())
}

func (ss *SessionStore) touch(ctx context.Context, id uuid.UUID, ip string, now time.Time) (bool, error) {
	updates := map[string]any{
		"last_used_at": gorm.Expr("CASE WHEN last_used_at < ? THEN ? ELSE last_used_at END", now, now),
	}
	if ip != "" {
		updates["ip_address"] = ip
	}
	res := ss.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, active, now).
		Updates(updates)
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func revokeColumns(now time.Time, reason string) map[string]any {
	return map[string]any{"status": revoked, "revoked_at": now, "revoke_reason": reason}
}

// RevokeSession moves an active session to revoked. It returns false without
// error when no active session with that id exists under the given owner,
// which makes repeated calls harmless.
func (ss *SessionStore) RevokeSession(ctx context.Context, id uuid.UUID, userID *uuid.UUID, reason string) (bool, error) {
	q := ss.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("id = ? AND status = ?", id, active)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	res := q.Updates(revokeColumns(ss.now(), reason))
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RevokeAllSessions revokes every active session of the user except the optional one.
func (ss *SessionStore) RevokeAllSessions(ctx context.Context, userID uuid.UUID, except *uuid.UUID, reason string) (int64, error) {
	q := ss.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("user_id = ? AND status = ?", userID, active)
	if except != nil {
		q = q.Where("id <> ?", *except)
	}
	res := q.Updates(revokeColumns(ss.now(), reason))
	return res.RowsAffected, classify(res.Error)
}

func (ss *SessionStore) RevokeDeviceSessions(ctx context.Context, userID uuid.UUID, deviceID, reason string) (int64, error) {
	res := ss.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("user_id = ? AND device_id = ? AND status = ?", userID, deviceID, active).
		Updates(revokeColumns(ss.now(), reason))
	return res.RowsAffected, classify(res.Error)
}

// SweepExpired moves active sessions past their expiry to expired in a single
// statement. Revoked sessions are never touched and a session moves at most once.
func (ss *SessionStore) SweepExpired(ctx context.Context) (int64, error) {
	res := ss.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("status = ? AND expires_at <= ?", active, ss.now()).
		Update("status", expired)
	return res.RowsAffected, classify(res.Error)
}

// ExtendExpiration pushes expires_at to now+ttl for a usable session only.
func (ss *SessionStore) ExtendExpiration(ctx context.Context, id uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: ttl must be positive", domain.ErrValidation)
	}
	now := ss.now()
	res := ss.db.WithContext(ctx).Model(&domain.DeviceSession{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, active, now).
		Update("expires_at", now.Add(ttl))
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (ss *SessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.DeviceSession, error) {
	var s domain.DeviceSession
	if err := ss.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (ss *SessionStore) FindActiveForDevice(ctx context.Context, userID uuid.UUID, deviceID string) ([]domain.DeviceSession, error) {
	var out []domain.DeviceSession
	err := ss.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ? AND status = ? AND expires_at > ?", userID, deviceID, active, ss.now()).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// ListActive returns the user's usable sessions, most recently used first.
func (ss *SessionStore) ListActive(ctx context.Context, userID uuid.UUID) ([]domain.DeviceSession, error) {
	var out []domain.DeviceSession
	err := ss.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, active, ss.now()).
		Order("last_used_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// RotateDeviceSession revokes every active session the user holds on the
// device and creates the replacement in one transaction. On postgres the
// user row is locked first so concurrent logins for the same user queue up.
func (s *Store) RotateDeviceSession(ctx context.Context, in NewSession) (*domain.DeviceSession, string, int64, error) {
	var (
		sess     *domain.DeviceSession
		raw      string
		replaced int64
	)
	err := s.WithTx(ctx, func(tx *Store) error {
		if err := tx.Users().lockForUpdate(ctx, in.UserID); err != nil {
			return err
		}
		n, err := tx.Sessions().RevokeDeviceSessions(ctx, in.UserID, in.DeviceID, domain.ReasonRotated)
		if err != nil {
			return err
		}
		replaced = n
		sess, raw, err = tx.Sessions().CreateSession(ctx, in)
		return err
	})
	if err != nil {
		return nil, "", 0, err
	}
	return sess, raw, replaced, nil
}
