package tokenguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/tokenguard/authz"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/ledger"
	"github.com/redis/go-redis/v9"
)

func TestAccessTokenExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")
	expiry := pair.AccessExpiresAt

	h.clock.Set(expiry.Add(-time.Second))
	if _, err := h.engine.Authenticate(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("token must be valid before expiry: %v", err)
	}

	for _, at := range []time.Time{expiry, expiry.Add(time.Second), expiry.Add(time.Hour)} {
		h.clock.Set(at)
		_, err := h.engine.Authenticate(context.Background(), pair.AccessToken)
		if !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("at %v: expected ErrTokenExpired, got %v", at.Sub(expiry), err)
		}
	}
}

func TestAccessTokenLeeway(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Tokens.Leeway = 30 * time.Second })
	pair := h.login(t, "alice", "correct-password-123")

	h.clock.Set(pair.AccessExpiresAt.Add(29 * time.Second))
	if _, err := h.engine.Authenticate(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("token must be valid within leeway: %v", err)
	}
	h.clock.Set(pair.AccessExpiresAt.Add(30 * time.Second))
	if _, err := h.engine.Authenticate(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired past leeway, got %v", err)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	for name, token := range map[string]string{
		"refresh token": pair.RefreshToken,
		"empty":         "",
		"garbage":       "a.b.c",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.engine.Authenticate(context.Background(), token)
			if !errors.Is(err, ErrTokenMalformed) {
				t.Fatalf("expected ErrTokenMalformed, got %v", err)
			}
		})
	}
}

func TestAuthenticateUnknownRole(t *testing.T) {
	h := newHarness(t)
	cfg := h.engine.Config()

	signer, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		SigningMethod: jwt.MethodHS256,
		AccessKeys:    jwt.Keys{Private: cfg.Tokens.AccessSecret},
		RefreshKeys:   jwt.Keys{Private: cfg.Tokens.RefreshSecret},
		Issuer:        cfg.Tokens.Issuer,
		Audience:      cfg.Tokens.Audience,
		Now:           h.clock.Now,
	})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, _, err := signer.CreateAccess("u-alice", []string{"root"})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}

	if _, err := h.engine.Authenticate(context.Background(), token); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for unknown role, got %v", err)
	}
}

func TestAliceScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.login(t, "alice", "correct-password-123")
	bob := h.login(t, "bob", "bob-password-456")

	own := authz.Resource{OwnerID: "u-alice"}
	bobs := authz.Resource{OwnerID: "u-bob"}
	assigned := authz.Resource{OwnerID: "u-bob", AssigneeID: "u-alice"}

	if _, err := h.engine.Authorize(ctx, alice.AccessToken, authz.Ownership(), own, authz.OpUpdate); err != nil {
		t.Fatalf("alice must update her own resource: %v", err)
	}
	if _, err := h.engine.Authorize(ctx, alice.AccessToken, authz.Ownership(), bobs, authz.OpRead); !errors.Is(err, ErrForbidden) {
		t.Fatalf("alice must not read bob's resource, got %v", err)
	}
	if _, err := h.engine.Authorize(ctx, alice.AccessToken, authz.OwnershipOrAssignment(), assigned, authz.OpRead); err != nil {
		t.Fatalf("assignee must read: %v", err)
	}
	if _, err := h.engine.Authorize(ctx, alice.AccessToken, authz.OwnershipOrAssignment(), assigned, authz.OpDelete); !errors.Is(err, ErrForbidden) {
		t.Fatalf("assignee must not delete, got %v", err)
	}
	if _, err := h.engine.Authorize(ctx, alice.AccessToken, authz.RequireRoles(authz.RoleAdmin), own, authz.OpRead); !errors.Is(err, ErrForbidden) {
		t.Fatalf("alice is not admin, got %v", err)
	}
	if _, err := h.engine.Authorize(ctx, bob.AccessToken, authz.Ownership(), own, authz.OpDelete); err != nil {
		t.Fatalf("admin may delete any resource: %v", err)
	}

	// Rotate, then replay the first token as a thief would.
	rotated, err := h.engine.Refresh(ctx, alice.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, alice.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse detection, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("rotated token must be revoked, got %v", err)
	}

	// The access token minted by the rotation is still good until it expires.
	if _, err := h.engine.Authenticate(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("access token survives revocation: %v", err)
	}
	h.clock.Set(rotated.AccessExpiresAt)
	if _, err := h.engine.Authenticate(ctx, rotated.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}

	// Alice can always log in again.
	h.login(t, "alice", "correct-password-123")
}

func TestAuditEvents(t *testing.T) {
	h := newHarness(t, withAudit)
	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.7"), "test-agent")

	pair, err := h.engine.Login(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := h.engine.Login(ctx, "alice", "nope"); err == nil {
		t.Fatal("expected login failure")
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse, got %v", err)
	}

	got := h.drainAudit()
	want := []string{
		auditEventLoginSuccess,
		auditEventLoginFailure,
		auditEventRefreshSuccess,
		auditEventRefreshReuseDetected,
		auditEventRevokeAll,
	}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestAuditEventCarriesRequestContext(t *testing.T) {
	h := newHarness(t, withAudit)
	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.7"), "test-agent")

	if _, err := h.engine.Login(ctx, "alice", "wrong"); err == nil {
		t.Fatal("expected failure")
	}
	h.engine.Close()

	ev := <-h.sink.Events()
	if ev.IP != "203.0.113.7" || ev.UserAgent != "test-agent" {
		t.Fatalf("missing request context: %+v", ev)
	}
	if ev.Success || ev.Error != string(KindInvalidCredentials) {
		t.Fatalf("unexpected outcome: %+v", ev)
	}
	if !ev.Timestamp.Equal(testEpoch.UTC()) {
		t.Fatalf("timestamp must come from the engine clock, got %v", ev.Timestamp)
	}
}

func TestMetricsCountOutcomes(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	if _, err := h.engine.Authenticate(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	_, _ = h.engine.Authenticate(context.Background(), "garbage")
	if err := h.engine.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	snap := h.engine.MetricsSnapshot()
	checks := map[MetricID]uint64{
		MetricLoginSuccess:        1,
		MetricAuthenticateFailure: 1,
		MetricLogout:              1,
		MetricRefreshSuccess:      0,
	}
	for id, want := range checks {
		if got := snap.Counters[id]; got != want {
			t.Fatalf("metric %d: expected %d, got %d", id, want, got)
		}
	}

	var observed uint64
	for _, n := range snap.Histograms[MetricAuthenticateLatency] {
		observed += n
	}
	if observed != 2 {
		t.Fatalf("expected 2 latency observations, got %d", observed)
	}
}

func TestBuilderRequirements(t *testing.T) {
	store := newFakeStore()

	if _, err := New().WithConfig(testConfig()).WithLedger(ledger.NewMemoryLedger()).Build(); err == nil {
		t.Fatal("expected error without principal store")
	}
	if _, err := New().WithConfig(testConfig()).WithPrincipalStore(store).Build(); err == nil {
		t.Fatal("expected error without ledger")
	}

	bad := testConfig()
	bad.Tokens.RefreshSecret = bad.Tokens.AccessSecret
	if _, err := New().WithConfig(bad).WithPrincipalStore(store).WithLedger(ledger.NewMemoryLedger()).Build(); err == nil {
		t.Fatal("expected error for shared secrets")
	}

	b := New().WithConfig(testConfig()).WithPrincipalStore(store).WithLedger(ledger.NewMemoryLedger())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("builder must be single use")
	}
}

func TestBuilderRejectsShardedRedis(t *testing.T) {
	cluster := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{"127.0.0.1:1"}})
	defer cluster.Close()

	_, err := New().
		WithConfig(testConfig()).
		WithPrincipalStore(newFakeStore()).
		WithRedis(cluster).
		Build()
	if !errors.Is(err, ledger.ErrShardedClient) {
		t.Fatalf("expected ErrShardedClient, got %v", err)
	}
}

func TestBuilderConfigIsCopied(t *testing.T) {
	cfg := testConfig()
	engine, err := New().
		WithConfig(cfg).
		WithPrincipalStore(newFakeStore()).
		WithLedger(ledger.NewMemoryLedger()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	cfg.Tokens.AccessSecret[0] = 'X'
	if engine.Config().Tokens.AccessSecret[0] == 'X' {
		t.Fatal("engine must not share config byte slices with the caller")
	}
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	if _, err := e.Login(ctx, "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Refresh(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Authenticate(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if err := e.Logout(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
	if e.AuditDropped() != 0 || len(e.MetricsSnapshot().Counters) != 0 {
		t.Fatal("nil engine must report empty state")
	}
}
