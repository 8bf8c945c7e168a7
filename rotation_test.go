package tokenguard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokenguard/authz"
)

type activeLister interface {
	ActiveIDs(ctx context.Context, subject string) ([]string, error)
}

func activeIDs(t *testing.T, h *harness, subject string) []string {
	t.Helper()
	lister, ok := h.ledger.(activeLister)
	if !ok {
		t.Fatalf("ledger %T cannot list ids", h.ledger)
	}
	ids, err := lister.ActiveIDs(context.Background(), subject)
	if err != nil {
		t.Fatalf("active ids: %v", err)
	}
	return ids
}

// swapSignature returns token with the signature segment of donor.
func swapSignature(token, donor string) string {
	parts := strings.Split(token, ".")
	donorParts := strings.Split(donor, ".")
	parts[2] = donorParts[2]
	return strings.Join(parts, ".")
}

func TestRefreshRotatesSingleUse(t *testing.T) {
	for name, build := range map[string]func(testing.TB, ...harnessOption) *harness{
		"memory": newHarness,
		"redis":  newRedisHarness,
	} {
		t.Run(name, func(t *testing.T) {
			h := build(t)
			first := h.login(t, "alice", "correct-password-123")

			second, err := h.engine.Refresh(context.Background(), first.RefreshToken)
			if err != nil {
				t.Fatalf("refresh: %v", err)
			}
			if second.RefreshID == first.RefreshID {
				t.Fatal("rotation must mint a new refresh id")
			}
			if second.RefreshToken == first.RefreshToken {
				t.Fatal("rotation must mint a new refresh token")
			}

			_, err = h.engine.Refresh(context.Background(), first.RefreshToken)
			if !errors.Is(err, ErrTokenReuseDetected) {
				t.Fatalf("expected reuse detection, got %v", err)
			}

			// The replay revoked the rotated token too.
			_, err = h.engine.Refresh(context.Background(), second.RefreshToken)
			if !errors.Is(err, ErrTokenReuseDetected) {
				t.Fatalf("expected rotated token to be revoked, got %v", err)
			}
			if ids := activeIDs(t, h, "u-alice"); len(ids) != 0 {
				t.Fatalf("expected no active ids after replay, got %v", ids)
			}
		})
	}
}

func TestReuseRevokesEveryDeviceOfSubjectOnly(t *testing.T) {
	h := newHarness(t)

	laptop := h.login(t, "alice", "correct-password-123")
	phone := h.login(t, "alice", "correct-password-123")
	other := h.login(t, "bob", "bob-password-456")

	if _, err := h.engine.Refresh(context.Background(), laptop.RefreshToken); err != nil {
		t.Fatalf("refresh laptop: %v", err)
	}
	if _, err := h.engine.Refresh(context.Background(), laptop.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse detection, got %v", err)
	}

	if _, err := h.engine.Refresh(context.Background(), phone.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected phone token revoked, got %v", err)
	}
	if _, err := h.engine.Refresh(context.Background(), other.RefreshToken); err != nil {
		t.Fatalf("other subject must be unaffected: %v", err)
	}

	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricRefreshReuseDetected] != 2 {
		t.Fatalf("expected 2 reuse detections, got %d", snap.Counters[MetricRefreshReuseDetected])
	}
}

func TestRefreshPicksUpRoleChanges(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	h.store.setRoles("u-alice", authz.NewRoleSet(authz.RoleUser, authz.RoleAdmin))

	next, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := h.engine.Authenticate(context.Background(), next.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !claims.Roles.Has(authz.RoleAdmin) {
		t.Fatalf("expected refreshed roles, got %s", claims.Roles)
	}
}

func TestRefreshForDeletedPrincipal(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")
	h.login(t, "alice", "correct-password-123")

	h.store.remove("u-alice")

	_, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if ids := activeIDs(t, h, "u-alice"); len(ids) != 0 {
		t.Fatalf("expected every id revoked, got %v", ids)
	}
}

func TestRefreshRejectsWrongTokens(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	for name, token := range map[string]string{
		"access token": pair.AccessToken,
		"garbage":      "not.a.token",
		"empty":        "",
		"tampered":     swapSignature(pair.RefreshToken, pair.AccessToken),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.engine.Refresh(context.Background(), token)
			if !errors.Is(err, ErrTokenMalformed) {
				t.Fatalf("expected ErrTokenMalformed, got %v", err)
			}
		})
	}

	// Malformed input never triggers revocation.
	if _, err := h.engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("live token must still rotate: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	h.clock.Set(pair.RefreshExpiresAt)

	_, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenReuseDetected) {
		t.Fatal("expiry must not be reported as reuse")
	}
}

func TestRefreshLedgerDownFailsClosed(t *testing.T) {
	h := newRedisHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	h.redis.Close()

	_, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if KindOf(err) != KindUnavailable {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
}

func TestRefreshStoreOutageKeepsTokenUsable(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	h.store.fail(errors.New("timeout"))
	_, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	h.store.fail(nil)
	if _, err := h.engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("retry after outage must succeed: %v", err)
	}
}

func TestStalledRefreshCannotRestoreRevokedToken(t *testing.T) {
	for name, releaseErr := range map[string]error{
		"store fails":    errors.New("store timeout"),
		"store recovers": nil,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			stolen := h.login(t, "alice", "correct-password-123")

			entered := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			h.store.onLookupByID(func() error {
				first := false
				once.Do(func() { first = true })
				if !first {
					return nil
				}
				close(entered)
				<-release
				return releaseErr
			})

			stalled := make(chan error, 1)
			go func() {
				_, err := h.engine.Refresh(ctx, stolen.RefreshToken)
				stalled <- err
			}()
			<-entered

			// Attacker rotates first, the victim's replay then trips detection.
			next, err := h.engine.Refresh(ctx, stolen.RefreshToken)
			if err != nil {
				t.Fatalf("first rotation: %v", err)
			}
			if _, err := h.engine.Refresh(ctx, stolen.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
				t.Fatalf("expected reuse detection, got %v", err)
			}

			close(release)
			err = <-stalled
			if releaseErr != nil && !errors.Is(err, ErrUnavailable) {
				t.Fatalf("stalled call: expected ErrUnavailable, got %v", err)
			}
			if releaseErr == nil && !errors.Is(err, ErrTokenReuseDetected) {
				t.Fatalf("stalled call: expected reuse detection, got %v", err)
			}

			if ids := activeIDs(t, h, "u-alice"); len(ids) != 0 {
				t.Fatalf("revoked chain came back: %v", ids)
			}
			for _, token := range []string{stolen.RefreshToken, next.RefreshToken} {
				if _, err := h.engine.Refresh(ctx, token); !errors.Is(err, ErrTokenReuseDetected) {
					t.Fatalf("revoked token accepted: %v", err)
				}
			}
		})
	}
}

func TestRefreshConsumedTokenOfDeletedPrincipalIsReuse(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")
	if _, err := h.engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	h.store.remove("u-alice")

	_, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse detection, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	if err := h.engine.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.engine.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("second logout must be a no-op: %v", err)
	}
	if ids := activeIDs(t, h, "u-alice"); len(ids) != 0 {
		t.Fatalf("expected no active ids, got %v", ids)
	}

	_, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("refresh after logout must be reuse, got %v", err)
	}

	if err := h.engine.Logout(context.Background(), "garbage"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for garbage, got %v", err)
	}
	if err := h.engine.Logout(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("access token must not log out, got %v", err)
	}
}

func TestLogoutExpiredToken(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	h.clock.Advance(8 * 24 * time.Hour)
	if err := h.engine.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("expired logout must succeed: %v", err)
	}
}

func TestRevokeSubject(t *testing.T) {
	h := newHarness(t)
	a := h.login(t, "alice", "correct-password-123")
	h.login(t, "alice", "correct-password-123")
	b := h.login(t, "bob", "bob-password-456")

	n, err := h.engine.RevokeSubject(context.Background(), "u-alice")
	if err != nil {
		t.Fatalf("revoke subject: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	if _, err := h.engine.Refresh(context.Background(), a.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	if _, err := h.engine.Refresh(context.Background(), b.RefreshToken); err != nil {
		t.Fatalf("bob must be unaffected: %v", err)
	}

	// Access tokens stay valid until they expire.
	if _, err := h.engine.Authenticate(context.Background(), a.AccessToken); err != nil {
		t.Fatalf("access token must remain valid: %v", err)
	}

	if _, err := h.engine.RevokeSubject(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestLoginAfterRevokeAllSurvives(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice", "correct-password-123")

	if _, err := h.engine.RevokeSubject(context.Background(), "u-alice"); err != nil {
		t.Fatalf("revoke subject: %v", err)
	}
	pair := h.login(t, "alice", "correct-password-123")
	if _, err := h.engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("login after revocation must be usable: %v", err)
	}
}

func TestRefreshWithLedgerSubjectMismatch(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice", "correct-password-123")

	// Rebind the id to another subject behind the engine's back.
	if err := h.ledger.Register(context.Background(), pair.RefreshID, "u-bob", time.Hour); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := h.engine.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse detection, got %v", err)
	}
	if _, ok, _ := h.ledger.Consume(context.Background(), pair.RefreshID); ok {
		t.Fatal("mismatched id must have been consumed")
	}
}
