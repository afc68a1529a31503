package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"intralink/internal/domain"
	"intralink/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []domain.Event
	closed *CloseReason
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return errors.New("closed")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close(reason CloseReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = &reason
	return nil
}

func (c *fakeConn) statusEvents() []domain.UserStatusChanged {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.UserStatusChanged
	for _, ev := range c.events {
		if ev.Type == domain.EventUserStatusChanged {
			out = append(out, ev.Data.(domain.UserStatusChanged))
		}
	}
	return out
}

func (c *fakeConn) closedWith() *CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTokens accepts "ok:<uuid>[ suffix]" and rejects everything else. The
// whole token doubles as its jti; exp, when set, is the expiry of every token.
type fakeTokens struct{ exp time.Time }

func (f fakeTokens) Validate(_ context.Context, token string) (*service.AccessClaims, error) {
	var id string
	if _, err := fmt.Sscanf(token, "ok:%s", &id); err != nil {
		return nil, domain.ErrTokenMalformed
	}
	c := &service.AccessClaims{}
	c.Subject = id
	c.ID = token
	if !f.exp.IsZero() {
		c.ExpiresAt = jwt.NewNumericDate(f.exp)
	}
	return c, nil
}

type presenceWrite struct {
	userID uuid.UUID
	online bool
}

type fakeUsers struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*domain.User
	writes []presenceWrite

	// When gate is set, online writes signal entered and wait for gate.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) SetPresence(_ context.Context, id uuid.UUID, online bool, _ time.Time) error {
	if online && f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, presenceWrite{id, online})
	f.users[id].IsOnline = online
	return nil
}

func (f *fakeUsers) add(username string, dept *uuid.UUID) *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &domain.User{ID: uuid.New(), Username: username, Status: domain.UserActive, DepartmentID: dept}
	f.users[u.ID] = u
	return u
}

func (f *fakeUsers) writesFor(id uuid.UUID) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bool
	for _, w := range f.writes {
		if w.userID == id {
			out = append(out, w.online)
		}
	}
	return out
}

func setup() (*Registry, *fakeUsers) {
	users := &fakeUsers{users: make(map[uuid.UUID]*domain.User)}
	return New(fakeTokens{}, users), users
}

func token(u *domain.User) string { return "ok:" + u.ID.String() }

func connect(t *testing.T, r *Registry, c Conn, u *domain.User) {
	t.Helper()
	if _, err := r.Connect(context.Background(), c, token(u)); err != nil {
		t.Fatalf("connect %s: %v", c.ID(), err)
	}
}

func TestConnectBroadcastsToOthersOnly(t *testing.T) {
	r, users := setup()
	alice, bob := users.add("alice", nil), users.add("bob", nil)
	a, b := newConn("a"), newConn("b")

	connect(t, r, a, alice)
	connect(t, r, b, bob)

	if got := b.statusEvents(); len(got) != 0 {
		t.Fatalf("connecting connection saw its own event: %+v", got)
	}
	got := a.statusEvents()
	if len(got) != 1 || got[0].UserID != bob.ID || !got[0].IsOnline || got[0].Username != "bob" {
		t.Fatalf("alice saw %+v, want one online event for bob", got)
	}
	if !r.Online(bob.ID) || r.Connections() != 2 {
		t.Fatalf("registry state wrong")
	}
	if w := users.writesFor(bob.ID); len(w) != 1 || !w[0] {
		t.Fatalf("durable writes for bob = %v", w)
	}
}

func TestDisconnectBroadcastsToRemaining(t *testing.T) {
	r, users := setup()
	alice, bob, carol := users.add("alice", nil), users.add("bob", nil), users.add("carol", nil)
	a, b, c := newConn("a"), newConn("b"), newConn("c")
	connect(t, r, a, alice)
	connect(t, r, b, bob)
	connect(t, r, c, carol)

	if !r.Disconnect(context.Background(), b) {
		t.Fatalf("disconnect reported unknown connection")
	}
	for _, conn := range []*fakeConn{a, c} {
		evs := conn.statusEvents()
		last := evs[len(evs)-1]
		if last.UserID != bob.ID || last.IsOnline {
			t.Fatalf("%s: last event %+v, want bob offline", conn.id, last)
		}
	}
	if r.Online(bob.ID) {
		t.Fatalf("bob still online")
	}
	if r.Disconnect(context.Background(), b) {
		t.Fatalf("second disconnect must be a no-op")
	}
	if w := users.writesFor(bob.ID); len(w) != 2 || w[1] {
		t.Fatalf("durable writes for bob = %v", w)
	}
}

func TestConnectRejectsBadCredential(t *testing.T) {
	r, users := setup()
	alice := users.add("alice", nil)
	watcher := newConn("w")
	connect(t, r, watcher, alice)

	bad := newConn("bad")
	_, err := r.Connect(context.Background(), bad, "garbage")
	if !errors.Is(err, domain.ErrConnectionAuth) || !errors.Is(err, domain.ErrTokenMalformed) {
		t.Fatalf("err = %v", err)
	}
	if got := bad.closedWith(); got == nil || *got != CloseUnauthorized {
		t.Fatalf("rejected connection not closed as unauthorized")
	}

	unknown := newConn("unknown")
	_, err = r.Connect(context.Background(), unknown, "ok:"+uuid.NewString())
	if !errors.Is(err, domain.ErrConnectionAuth) {
		t.Fatalf("unknown user: %v", err)
	}

	if r.Connections() != 1 || len(watcher.statusEvents()) != 0 {
		t.Fatalf("failed connections left state behind")
	}
}

func TestConnectRejectsInactiveUser(t *testing.T) {
	r, users := setup()
	u := users.add("sam", nil)
	users.users[u.ID].Status = domain.UserSuspended
	c := newConn("c")
	if _, err := r.Connect(context.Background(), c, token(u)); !errors.Is(err, domain.ErrUserDisabled) {
		t.Fatalf("err = %v", err)
	}
	if got := c.closedWith(); got == nil || *got != CloseUnauthorized {
		t.Fatalf("connection not closed")
	}
}

// Two tabs for one user: closing one keeps the user online.
func TestPresenceIsReferenceCounted(t *testing.T) {
	r, users := setup()
	alice, bob := users.add("alice", nil), users.add("bob", nil)
	watcher := newConn("bob")
	connect(t, r, watcher, bob)

	tab1, tab2 := newConn("tab1"), newConn("tab2")
	connect(t, r, tab1, alice)
	connect(t, r, tab2, alice)

	if got := watcher.statusEvents(); len(got) != 1 || !got[0].IsOnline {
		t.Fatalf("second tab must not re-announce alice: %+v", got)
	}
	if got := tab1.statusEvents(); len(got) != 0 {
		t.Fatalf("first tab saw alice's own second connection: %+v", got)
	}

	r.Disconnect(context.Background(), tab1)
	if !r.Online(alice.ID) {
		t.Fatalf("alice went offline with a tab still open")
	}
	if got := watcher.statusEvents(); len(got) != 1 {
		t.Fatalf("offline event sent while a connection remains: %+v", got)
	}
	if w := users.writesFor(alice.ID); len(w) != 1 {
		t.Fatalf("durable writes = %v, want only the online transition", w)
	}

	r.Disconnect(context.Background(), tab2)
	if r.Online(alice.ID) {
		t.Fatalf("alice online with no connections")
	}
	got := watcher.statusEvents()
	if len(got) != 2 || got[1].IsOnline {
		t.Fatalf("want one offline event after last tab, got %+v", got)
	}
}

func TestRooms(t *testing.T) {
	r, users := setup()
	eng, ops := uuid.New(), uuid.New()
	alice, bob, carol := users.add("alice", &eng), users.add("bob", &eng), users.add("carol", &ops)
	a, b, c := newConn("a"), newConn("b"), newConn("c")
	connect(t, r, a, alice)
	connect(t, r, b, bob)
	connect(t, r, c, carol)

	ev := domain.Event{Type: domain.EventAnnouncement, Data: "hello"}
	if n := r.EmitToDepartment(eng, ev); n != 2 {
		t.Fatalf("department delivery = %d, want 2", n)
	}
	if n := r.EmitToUser(carol.ID, ev); n != 1 {
		t.Fatalf("user delivery = %d, want 1", n)
	}
	if n := r.EmitToRoom("dept:"+uuid.NewString(), ev); n != 0 {
		t.Fatalf("empty room delivery = %d", n)
	}

	summary := r.OnlineSummary()
	if len(summary) != 3 || summary[0].Username != "alice" || summary[0].Connections != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(r.OnlineUsers()) != 3 {
		t.Fatalf("online users = %v", r.OnlineUsers())
	}
}

func TestCloseRejectsAndDrains(t *testing.T) {
	r, users := setup()
	alice := users.add("alice", nil)
	a := newConn("a")
	connect(t, r, a, alice)

	r.Close(context.Background())
	if got := a.closedWith(); got == nil || *got != CloseShutdown {
		t.Fatalf("live connection not closed on shutdown")
	}
	if r.Online(alice.ID) || r.Connections() != 0 {
		t.Fatalf("registry not drained")
	}
	if w := users.writesFor(alice.ID); len(w) != 2 || w[1] {
		t.Fatalf("alice not marked offline: %v", w)
	}

	late := newConn("late")
	if _, err := r.Connect(context.Background(), late, token(alice)); !errors.Is(err, domain.ErrRegistryClosed) {
		t.Fatalf("connect after close: %v", err)
	}
	r.Close(context.Background())
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	r, users := setup()
	const n = 20
	people := make([]*domain.User, 4)
	for i := range people {
		people[i] = users.add(fmt.Sprintf("user%d", i), nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newConn(fmt.Sprintf("c%d", i))
			if _, err := r.Connect(context.Background(), c, token(people[i%len(people)])); err != nil {
				t.Errorf("connect: %v", err)
				return
			}
			r.Disconnect(context.Background(), c)
		}(i)
	}
	wg.Wait()

	if r.Connections() != 0 || len(r.OnlineUsers()) != 0 {
		t.Fatalf("registry not empty after all disconnects")
	}
	for _, p := range people {
		w := users.writesFor(p.ID)
		if len(w) == 0 || w[len(w)-1] {
			t.Fatalf("%s: last durable write %v, want offline", p.Username, w)
		}
		for i := 1; i < len(w); i++ {
			if w[i] == w[i-1] {
				t.Fatalf("%s: writes do not alternate: %v", p.Username, w)
			}
		}
	}
}

func TestDisconnectTokenClosesOnlyThatToken(t *testing.T) {
	r, users := setup()
	alice, bob := users.add("alice", nil), users.add("bob", nil)
	watcher := newConn("bob")
	connect(t, r, watcher, bob)

	laptop, phone := newConn("laptop"), newConn("phone")
	ctx := context.Background()
	tokLaptop, tokPhone := token(alice)+" laptop", token(alice)+" phone"
	if _, err := r.Connect(ctx, laptop, tokLaptop); err != nil {
		t.Fatalf("connect laptop: %v", err)
	}
	if _, err := r.Connect(ctx, phone, tokPhone); err != nil {
		t.Fatalf("connect phone: %v", err)
	}

	if n := r.DisconnectToken(ctx, tokLaptop); n != 1 {
		t.Fatalf("disconnected %d, want 1", n)
	}
	if got := laptop.closedWith(); got == nil || *got != CloseUnauthorized {
		t.Fatalf("laptop not closed as unauthorized")
	}
	if phone.closedWith() != nil || !r.Online(alice.ID) {
		t.Fatalf("phone must stay connected")
	}
	if n := r.DisconnectToken(ctx, tokLaptop); n != 0 {
		t.Fatalf("repeat disconnect = %d", n)
	}
	if n := r.DisconnectToken(ctx, ""); n != 0 {
		t.Fatalf("empty jti matched %d connections", n)
	}

	r.DisconnectToken(ctx, tokPhone)
	if r.Online(alice.ID) {
		t.Fatalf("alice online after her last token was revoked")
	}
	got := watcher.statusEvents()
	if len(got) != 2 || got[1].UserID != alice.ID || got[1].IsOnline {
		t.Fatalf("watcher saw %+v, want alice offline last", got)
	}
}

func TestDisconnectUser(t *testing.T) {
	r, users := setup()
	alice, bob := users.add("alice", nil), users.add("bob", nil)
	a1, a2, b := newConn("a1"), newConn("a2"), newConn("b")
	connect(t, r, a1, alice)
	connect(t, r, a2, alice)
	connect(t, r, b, bob)

	if n := r.DisconnectUser(context.Background(), alice.ID); n != 2 {
		t.Fatalf("disconnected %d, want 2", n)
	}
	if a1.closedWith() == nil || a2.closedWith() == nil || b.closedWith() != nil {
		t.Fatalf("wrong connections closed")
	}
	if r.Online(alice.ID) || !r.Online(bob.ID) || r.Connections() != 1 {
		t.Fatalf("registry state wrong after disconnecting alice")
	}
	if w := users.writesFor(alice.ID); len(w) != 2 || w[1] {
		t.Fatalf("durable writes for alice = %v", w)
	}
}

func TestCloseExpired(t *testing.T) {
	users := &fakeUsers{users: make(map[uuid.UUID]*domain.User)}
	now := time.Now()
	r := New(fakeTokens{exp: now.Add(time.Minute)}, users)
	alice := users.add("alice", nil)
	c := newConn("c")
	connect(t, r, c, alice)

	if n := r.CloseExpired(context.Background()); n != 0 {
		t.Fatalf("closed %d live connections before expiry", n)
	}
	r.now = func() time.Time { return now.Add(2 * time.Minute) }
	if n := r.CloseExpired(context.Background()); n != 1 {
		t.Fatalf("closed %d, want 1", n)
	}
	if got := c.closedWith(); got == nil || *got != CloseUnauthorized {
		t.Fatalf("expired connection not closed as unauthorized")
	}
	if r.Online(alice.ID) {
		t.Fatalf("alice online on an expired token")
	}
}

// A connect whose online write is still in flight when the registry closes
// must not leave the user marked online.
func TestCloseWaitsForInFlightConnect(t *testing.T) {
	r, users := setup()
	alice := users.add("alice", nil)
	users.gate = make(chan struct{})
	users.entered = make(chan struct{}, 1)

	connected := make(chan error, 1)
	go func() {
		_, err := r.Connect(context.Background(), newConn("a"), token(alice))
		connected <- err
	}()
	<-users.entered

	closed := make(chan struct{})
	go func() {
		r.Close(context.Background())
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatalf("close finished while a connect was persisting")
	case <-time.After(50 * time.Millisecond):
	}
	close(users.gate)
	if err := <-connected; err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-closed

	w := users.writesFor(alice.ID)
	if len(w) != 2 || !w[0] || w[1] {
		t.Fatalf("durable writes = %v, want online then offline", w)
	}
}
