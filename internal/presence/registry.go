// Package presence tracks live authenticated connections and the online
// state they imply.
//
// Presence is reference counted: a user is online while at least one live
// connection maps to them. user_status_changed is emitted only when that
// count moves between zero and one.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"intralink/internal/domain"
	"intralink/internal/dto"
	"intralink/internal/observability/metrics"
	"intralink/internal/service"
	"intralink/internal/syncx"

	"github.com/google/uuid"
)

const presenceWriteTimeout = 5 * time.Second

type CloseReason int

const (
	CloseNormal CloseReason = iota
	CloseUnauthorized
	CloseShutdown
)

func (r CloseReason) String() string {
	switch r {
	case CloseUnauthorized:
		return "unauthorized"
	case CloseShutdown:
		return "shutdown"
	}
	return "normal"
}

// Conn is a live connection. Send must not block for long; transports
// buffer and drop slow consumers.
type Conn interface {
	ID() string
	Send(ev domain.Event) error
	Close(reason CloseReason) error
}

type TokenValidator interface {
	Validate(ctx context.Context, token string) (*service.AccessClaims, error)
}

// UserDirectory is the user collaborator presence reads and writes through.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	SetPresence(ctx context.Context, id uuid.UUID, online bool, at time.Time) error
}

type entry struct {
	conn     Conn
	userID   uuid.UUID
	username string
	rooms    []string
	// jti and expiresAt identify the access token the connection was
	// authenticated with; the connection lives no longer than the token.
	jti       string
	expiresAt time.Time
}

type Registry struct {
	tokens TokenValidator
	users  UserDirectory
	now    func() time.Time

	// userLocks orders connect and disconnect of the same user so
	// transitions and their broadcasts cannot interleave.
	userLocks *syncx.KeyedMutex

	mu     sync.RWMutex
	closed bool
	conns  map[string]*entry
	byUser map[uuid.UUID]map[string]struct{}
	rooms  map[string]map[string]struct{}
}

func New(tokens TokenValidator, users UserDirectory) *Registry {
	return &Registry{
		tokens:    tokens,
		users:     users,
		now:       time.Now,
		userLocks: syncx.NewKeyedMutex(),
		conns:     make(map[string]*entry),
		byUser:    make(map[uuid.UUID]map[string]struct{}),
		rooms:     make(map[string]map[string]struct{}),
	}
}

func UserRoom(id uuid.UUID) string { return "user:" + id.String() }

func DepartmentRoom(id uuid.UUID) string { return "dept:" + id.String() }

// Connect authenticates conn with token and registers it. On any failure the
// connection is closed and nothing is recorded.
func (r *Registry) Connect(ctx context.Context, conn Conn, token string) (*domain.User, error) {
	if r.isClosed() {
		_ = conn.Close(CloseShutdown)
		return nil, domain.ErrRegistryClosed
	}
	claims, err := r.tokens.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			_ = conn.Close(CloseShutdown)
			return nil, err
		}
		_ = conn.Close(CloseUnauthorized)
		return nil, fmt.Errorf("%w: %w", domain.ErrConnectionAuth, err)
	}
	userID, err := claims.UserID()
	if err != nil {
		_ = conn.Close(CloseUnauthorized)
		return nil, fmt.Errorf("%w: %w", domain.ErrConnectionAuth, err)
	}
	user, err := r.users.GetByID(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		_ = conn.Close(CloseUnauthorized)
		return nil, fmt.Errorf("%w: unknown user", domain.ErrConnectionAuth)
	case err != nil:
		_ = conn.Close(CloseShutdown)
		return nil, err
	case !user.Active():
		_ = conn.Close(CloseUnauthorized)
		return nil, fmt.Errorf("%w: %w", domain.ErrConnectionAuth, domain.ErrUserDisabled)
	}

	unlock := r.userLocks.Lock(userID.String())
	defer unlock()

	e := &entry{
		conn:      conn,
		userID:    userID,
		username:  user.Username,
		rooms:     []string{UserRoom(userID)},
		jti:       claims.ID,
		expiresAt: claims.Expiry(),
	}
	if user.DepartmentID != nil {
		e.rooms = append(e.rooms, DepartmentRoom(*user.DepartmentID))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close(CloseShutdown)
		return nil, domain.ErrRegistryClosed
	}
	first := len(r.byUser[userID]) == 0
	r.add(e)
	r.mu.Unlock()
	metrics.PresenceConnections.Inc()

	// Close may have run since the entry was added; it then owns the
	// offline write and waits on this user's lock to make it.
	if first && !r.isClosed() {
		at := r.now().UTC()
		r.persist(ctx, userID, true, at)
		user.IsOnline = true
		user.LastSeen = &at
		r.Broadcast(statusChanged(e, true, at), conn.ID())
	}
	slog.Debug("presence connected", "user_id", userID, "conn_id", conn.ID(), "first", first)
	return user, nil
}

// Disconnect unregisters conn. It reports false when conn was not registered,
// so repeated calls are harmless.
func (r *Registry) Disconnect(ctx context.Context, conn Conn) bool {
	r.mu.RLock()
	e, ok := r.conns[conn.ID()]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	unlock := r.userLocks.Lock(e.userID.String())
	defer unlock()

	r.mu.Lock()
	if _, ok := r.conns[conn.ID()]; !ok {
		r.mu.Unlock()
		return false
	}
	r.remove(e)
	last := len(r.byUser[e.userID]) == 0
	r.mu.Unlock()
	metrics.PresenceConnections.Dec()

	if last {
		at := r.now().UTC()
		r.persist(ctx, e.userID, false, at)
		r.Broadcast(statusChanged(e, false, at), "")
	}
	slog.Debug("presence disconnected", "user_id", e.userID, "conn_id", conn.ID(), "last", last)
	return true
}

// DisconnectToken closes every connection authenticated with the access
// token jti and reports how many there were.
func (r *Registry) DisconnectToken(ctx context.Context, jti string) int {
	if jti == "" {
		return 0
	}
	return r.evict(ctx, func(e *entry) bool { return e.jti == jti })
}

// DisconnectUser closes every connection of userID.
func (r *Registry) DisconnectUser(ctx context.Context, userID uuid.UUID) int {
	return r.evict(ctx, func(e *entry) bool { return e.userID == userID })
}

// CloseExpired closes connections whose access token has expired.
func (r *Registry) CloseExpired(ctx context.Context) int {
	now := r.now()
	return r.evict(ctx, func(e *entry) bool {
		return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
	})
}

// evict closes matching connections as unauthorized and unregisters them,
// so presence transitions are broadcast as for a normal disconnect.
func (r *Registry) evict(ctx context.Context, match func(*entry) bool) int {
	r.mu.RLock()
	var targets []Conn
	for _, e := range r.conns {
		if match(e) {
			targets = append(targets, e.conn)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, c := range targets {
		_ = c.Close(CloseUnauthorized)
		if r.Disconnect(ctx, c) {
			n++
		}
	}
	if n > 0 {
		slog.Info("presence connections evicted", "count", n)
	}
	return n
}

// add and remove require r.mu held for writing.
func (r *Registry) add(e *entry) {
	id := e.conn.ID()
	r.conns[id] = e
	if r.byUser[e.userID] == nil {
		r.byUser[e.userID] = make(map[string]struct{})
	}
	r.byUser[e.userID][id] = struct{}{}
	for _, room := range e.rooms {
		if r.rooms[room] == nil {
			r.rooms[room] = make(map[string]struct{})
		}
		r.rooms[room][id] = struct{}{}
	}
}

func (r *Registry) remove(e *entry) {
	id := e.conn.ID()
	delete(r.conns, id)
	if set := r.byUser[e.userID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, e.userID)
		}
	}
	for _, room := range e.rooms {
		if set := r.rooms[room]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(r.rooms, room)
			}
		}
	}
}

// persist writes the durable online flag. The in-memory registry stays
// authoritative when the write fails.
func (r *Registry) persist(ctx context.Context, userID uuid.UUID, online bool, at time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceWriteTimeout)
	defer cancel()
	if err := r.users.SetPresence(ctx, userID, online, at); err != nil {
		slog.Warn("presence write failed", "user_id", userID, "online", online, "err", err)
	}
}

func statusChanged(e *entry, online bool, at time.Time) domain.Event {
	return domain.Event{
		Type: domain.EventUserStatusChanged,
		Data: domain.UserStatusChanged{UserID: e.userID, Username: e.username, IsOnline: online, LastSeen: &at},
	}
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) Online(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the ids of users with at least one live connection.
func (r *Registry) OnlineUsers() []uuid.UUID {
	r.mu.RLock()
	out := make([]uuid.UUID, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// OnlineSummary lists online users with their connection counts, by username.
func (r *Registry) OnlineSummary() []dto.OnlineUser {
	r.mu.RLock()
	out := make([]dto.OnlineUser, 0, len(r.byUser))
	for id, set := range r.byUser {
		u := dto.OnlineUser{UserID: id.String(), Connections: len(set)}
		for connID := range set {
			u.Username = r.conns[connID].username
			break
		}
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// EmitToRoom sends ev to every connection in room and returns how many
// accepted it.
func (r *Registry) EmitToRoom(room string, ev domain.Event) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		targets = append(targets, r.conns[id].conn)
	}
	r.mu.RUnlock()
	return deliver(targets, ev)
}

func (r *Registry) EmitToUser(userID uuid.UUID, ev domain.Event) int {
	return r.EmitToRoom(UserRoom(userID), ev)
}

func (r *Registry) EmitToDepartment(deptID uuid.UUID, ev domain.Event) int {
	return r.EmitToRoom(DepartmentRoom(deptID), ev)
}

// Broadcast sends ev to every connection except the one with id exceptID.
func (r *Registry) Broadcast(ev domain.Event, exceptID string) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for id, e := range r.conns {
		if id != exceptID {
			targets = append(targets, e.conn)
		}
	}
	r.mu.RUnlock()
	return deliver(targets, ev)
}

func deliver(targets []Conn, ev domain.Event) int {
	n := 0
	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			slog.Debug("presence send failed", "conn_id", c.ID(), "type", ev.Type, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		metrics.PresenceEventsTotal.WithLabelValues(ev.Type).Add(float64(n))
	}
	return n
}

// Close rejects further connections, closes the live ones and marks their
// users offline. It is safe to call more than once.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := make([]*entry, 0, len(r.conns))
	for _, e := range r.conns {
		entries = append(entries, e)
	}
	users := make([]uuid.UUID, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	r.conns = make(map[string]*entry)
	r.byUser = make(map[uuid.UUID]map[string]struct{})
	r.rooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, e := range entries {
		_ = e.conn.Close(CloseShutdown)
	}
	metrics.PresenceConnections.Sub(float64(len(entries)))
	at := r.now().UTC()
	for _, id := range users {
		unlock := r.userLocks.Lock(id.String())
		r.persist(ctx, id, false, at)
		unlock()
	}
	slog.Info("presence registry closed", "connections", len(entries), "users", len(users))
}
