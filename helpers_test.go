package tokenguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokenguard/authz"
	"github.com/MrEthical07/tokenguard/ledger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Unix(1_700_000_000, 0)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeStore struct {
	mu      sync.RWMutex
	byID    map[string]Principal
	byIdent map[string]string
	err     error
	// byIDHook runs before every PrincipalByID lookup, outside the lock.
	byIDHook func() error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:    make(map[string]Principal),
		byIdent: make(map[string]string),
	}
}

func (s *fakeStore) put(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
	s.byIdent[p.Identifier] = p.ID
}

func (s *fakeStore) setRoles(id string, roles authz.RoleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byID[id]
	p.Roles = roles
	s.byID[id] = p
}

func (s *fakeStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	delete(s.byIdent, p.Identifier)
}

func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeStore) onLookupByID(hook func() error) {
	s.mu.Lock()
	s.byIDHook = hook
	s.mu.Unlock()
}

func (s *fakeStore) PrincipalByIdentifier(_ context.Context, identifier string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Principal{}, s.err
	}
	id, ok := s.byIdent[identifier]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return s.byID[id], nil
}

func (s *fakeStore) PrincipalByID(_ context.Context, id string) (Principal, error) {
	s.mu.RLock()
	hook := s.byIDHook
	s.mu.RUnlock()
	if hook != nil {
		if err := hook(); err != nil {
			return Principal{}, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Principal{}, s.err
	}
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tokens.AccessSecret = []byte("access-secret-access-secret-0001")
	cfg.Tokens.RefreshSecret = []byte("refresh-secret-refresh-secret-01")
	cfg.Tokens.Issuer = "tokenguard"
	cfg.Tokens.Audience = "api"
	cfg.Password.Algorithm = "bcrypt"
	cfg.Password.BcryptCost = 4
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type harness struct {
	engine *Engine
	store  *fakeStore
	clock  *testClock
	ledger ledger.Ledger
	redis  *miniredis.Miniredis
	sink   *ChannelSink
}

type harnessOption func(*Config)

// newHarness builds an engine over a memory ledger sharing the test clock.
func newHarness(t testing.TB, opts ...harnessOption) *harness {
	t.Helper()
	clock := newTestClock()
	l := ledger.NewMemoryLedger(ledger.WithClock(clock.Now))
	return buildHarness(t, clock, New().WithLedger(l), l, nil, opts...)
}

// newRedisHarness builds an engine over miniredis.
func newRedisHarness(t testing.TB, opts ...harnessOption) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newTestClock()
	cfg := testConfig()
	l := ledger.NewRedisLedger(rdb, cfg.Ledger.RedisPrefix)
	return buildHarness(t, clock, New().WithRedis(rdb), l, mr, opts...)
}

func buildHarness(t testing.TB, clock *testClock, b *Builder, l ledger.Ledger, mr *miniredis.Miniredis, opts ...harnessOption) *harness {
	t.Helper()
	cfg := testConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sink := NewChannelSink(256)
	store := newFakeStore()
	engine, err := b.
		WithConfig(cfg).
		WithPrincipalStore(store).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	h := &harness{engine: engine, store: store, clock: clock, ledger: l, redis: mr, sink: sink}
	h.addPrincipal(t, "u-alice", "alice", "correct-password-123", authz.RoleUser)
	h.addPrincipal(t, "u-bob", "bob", "bob-password-456", authz.RoleUser, authz.RoleAdmin)
	return h
}

func withAudit(cfg *Config) {
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = false
}

func (h *harness) addPrincipal(t testing.TB, id, identifier, secret string, roles ...authz.Role) {
	t.Helper()
	hasher, err := NewHasher(h.engine.Config().Password)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h.store.put(Principal{
		ID:           id,
		Identifier:   identifier,
		PasswordHash: hash,
		Roles:        authz.NewRoleSet(roles...),
	})
}

func (h *harness) login(t testing.TB, identifier, secret string) TokenPair {
	t.Helper()
	pair, err := h.engine.Login(context.Background(), identifier, secret)
	if err != nil {
		t.Fatalf("login %s: %v", identifier, err)
	}
	return pair
}

// drainAudit closes the engine and returns every delivered event type.
func (h *harness) drainAudit() []string {
	h.engine.Close()
	var types []string
	for {
		select {
		case ev := <-h.sink.Events():
			types = append(types, ev.EventType)
		default:
			return types
		}
	}
}
