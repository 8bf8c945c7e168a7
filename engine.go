package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/tokenguard/authz"
	"github.com/MrEthical07/tokenguard/internal/audit"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/ledger"
	"github.com/MrEthical07/tokenguard/password"
)

// Engine issues, rotates and verifies tokens for one deployment. Build it
// with New().…Build(). All methods are safe for concurrent use.
type Engine struct {
	config     Config
	tokens     *jwt.Manager
	ledger     ledger.Ledger
	principals PrincipalStore
	hasher     password.Hasher
	dummyHash  string
	audit      *audit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Login verifies identifier and secret and mints a fresh token pair.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (TokenPair, error) {
	if e == nil || e.tokens == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	p, err := e.verify(ctx, identifier, secret)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		if errors.Is(err, ErrUnavailable) {
			e.metricInc(MetricLedgerUnavailable)
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, p.ID, "", err, nil)
		e.logFailure(ctx, "login", p.ID, err)
		return TokenPair{}, err
	}

	pair, err := e.mint(ctx, p)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, p.ID, "", err, nil)
		e.logFailure(ctx, "login", p.ID, err)
		return TokenPair{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, p.ID, pair.RefreshID, nil, nil)
	e.logger.LogAttrs(ctx, slog.LevelInfo, "login",
		slog.String("subject", p.ID),
		slog.String("jti", pair.RefreshID),
	)
	return pair, nil
}

// Authenticate verifies an access token without touching the ledger. A
// token is valid while now < exp+leeway.
func (e *Engine) Authenticate(ctx context.Context, token string) (Claims, error) {
	if e == nil || e.tokens == nil {
		return Claims{}, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(start)

	ac, err := e.tokens.ParseAccess(token)
	if err != nil {
		err = tokenError(err)
		e.metricInc(MetricAuthenticateFailure)
		e.logFailure(ctx, "authenticate", "", err)
		return Claims{}, err
	}

	roles, err := authz.ParseRoleSet(ac.Roles)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		err = fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		e.logFailure(ctx, "authenticate", ac.Subject, err)
		return Claims{}, err
	}

	return Claims{
		Subject:   ac.Subject,
		Roles:     roles,
		ExpiresAt: ac.ExpiresAt.Time,
	}, nil
}

// Authorize authenticates token and evaluates guard against resource for op.
func (e *Engine) Authorize(ctx context.Context, token string, guard authz.Guard, resource authz.Resource, op authz.Operation) (Claims, error) {
	claims, err := e.Authenticate(ctx, token)
	if err != nil {
		return Claims{}, err
	}
	if err := authz.Check(guard, claims.AuthzSubject(), resource, op); err != nil {
		return claims, err
	}
	return claims, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Ledger exposes the refresh ledger the engine was built with.
func (e *Engine) Ledger() ledger.Ledger {
	if e == nil {
		return nil
	}
	return e.ledger
}

// MetricsSnapshot returns the current counters. It is empty when metrics are
// disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close drains and stops the audit dispatcher. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// bounded derives the context for one backend call.
func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Ledger.OperationTimeout)
}

// tokenError converts a jwt package failure into an engine sentinel.
func tokenError(err error) error {
	if errors.Is(err, jwt.ErrExpired) {
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
}

// ledgerError converts a ledger failure. Anything but an invalid entry is
// treated as unavailability.
func (e *Engine) ledgerError(op string, err error) error {
	if errors.Is(err, ledger.ErrInvalidEntry) {
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	e.metricInc(MetricLedgerUnavailable)
	return fmt.Errorf("%w: ledger %s: %v", ErrUnavailable, op, err)
}
