package tokenguard

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/MrEthical07/tokenguard/jwt"
)

// Refresh rotates a refresh token. The presented token is consumed and a new
// pair is minted for the principal as currently stored.
//
// A token that is well signed but no longer in the ledger was either already
// rotated or revoked. That is treated as theft: every refresh token of the
// subject is revoked and ErrTokenReuseDetected is returned.
//
// The principal is read before the token is consumed. Once the ledger has
// consumed the id, only the ledger itself can fail the call, and a consumed id
// is never put back.
func (e *Engine) Refresh(ctx context.Context, token string) (TokenPair, error) {
	if e == nil || e.tokens == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseRefresh(token)
	if err != nil {
		err = tokenError(err)
		e.refreshFailed(ctx, "", "", err)
		return TokenPair{}, err
	}
	subject, id := claims.Subject, claims.ID

	p, lookupErr := e.principalByID(ctx, subject)
	if lookupErr != nil && !errors.Is(lookupErr, ErrPrincipalNotFound) {
		e.refreshFailed(ctx, subject, id, lookupErr)
		return TokenPair{}, lookupErr
	}

	lctx, cancel := e.bounded(ctx)
	owner, ok, err := e.ledger.Consume(lctx, id)
	cancel()
	if err != nil {
		err = e.ledgerError("consume", err)
		e.refreshFailed(ctx, subject, id, err)
		return TokenPair{}, err
	}

	if !ok || owner != subject {
		return TokenPair{}, e.reuseDetected(ctx, subject, id, owner)
	}
	if lookupErr != nil {
		return TokenPair{}, e.principalGone(ctx, subject, id)
	}

	pair, err := e.mint(ctx, p)
	if err != nil {
		e.refreshFailed(ctx, subject, id, err)
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, subject, pair.RefreshID, nil, func() map[string]string {
		return map[string]string{"previous_token_id": id}
	})
	e.logger.LogAttrs(ctx, slog.LevelDebug, "refresh rotated",
		slog.String("subject", subject),
		slog.String("jti", id),
		slog.String("new_jti", pair.RefreshID),
	)
	return pair, nil
}

// Logout revokes the refresh token. Revoking an id that is already gone is
// not an error, and neither is a correctly signed token past its expiry
// since its ledger entry expired with it. Tokens that fail verification are
// rejected so that arbitrary ids cannot be revoked.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.ParseRefresh(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil
		}
		return tokenError(err)
	}

	lctx, cancel := e.bounded(ctx)
	err = e.ledger.Revoke(lctx, claims.ID)
	cancel()
	if err != nil {
		err = e.ledgerError("revoke", err)
		e.logFailure(ctx, "logout", claims.Subject, err)
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.ID, nil, nil)
	e.logger.LogAttrs(ctx, slog.LevelInfo, "logout",
		slog.String("subject", claims.Subject),
		slog.String("jti", claims.ID),
	)
	return nil
}

// RevokeSubject revokes every refresh token of subject and returns how many
// were live. Access tokens already issued stay valid until they expire.
func (e *Engine) RevokeSubject(ctx context.Context, subject string) (int, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}
	if subject == "" {
		return 0, errors.New("empty subject")
	}
	return e.revokeAll(ctx, subject, "explicit")
}

func (e *Engine) revokeAll(ctx context.Context, subject, reason string) (int, error) {
	lctx, cancel := e.bounded(ctx)
	n, err := e.ledger.RevokeAll(lctx, subject)
	cancel()
	if err != nil {
		err = e.ledgerError("revoke all", err)
		e.logFailure(ctx, "revoke all", subject, err)
		return 0, err
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, subject, "", nil, func() map[string]string {
		return map[string]string{
			"reason":  reason,
			"revoked": strconv.Itoa(n),
		}
	})
	e.logger.LogAttrs(ctx, slog.LevelInfo, "refresh tokens revoked",
		slog.String("subject", subject),
		slog.String("reason", reason),
		slog.Int("revoked", n),
	)
	return n, nil
}

func (e *Engine) reuseDetected(ctx context.Context, subject, id, owner string) error {
	e.metricInc(MetricRefreshFailure)
	e.metricInc(MetricRefreshReuseDetected)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, subject, id, ErrTokenReuseDetected, nil)

	attrs := []slog.Attr{
		slog.String("event", auditEventRefreshReuseDetected),
		slog.String("subject", subject),
		slog.String("jti", id),
	}
	if owner != "" {
		attrs = append(attrs, slog.String("ledger_subject", owner))
	}
	e.logger.LogAttrs(ctx, slog.LevelWarn, "refresh token reuse detected", attrs...)

	if _, err := e.revokeAll(ctx, subject, "reuse"); err != nil {
		return err
	}
	return ErrTokenReuseDetected
}

func (e *Engine) principalGone(ctx context.Context, subject, id string) error {
	e.metricInc(MetricRefreshFailure)
	e.logger.LogAttrs(ctx, slog.LevelWarn, "refresh for missing principal",
		slog.String("subject", subject),
		slog.String("jti", id),
	)
	if _, err := e.revokeAll(ctx, subject, "principal_missing"); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventRefreshInvalid, false, subject, id, ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

func (e *Engine) refreshFailed(ctx context.Context, subject, id string, err error) {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, subject, id, err, nil)
	e.logFailure(ctx, "refresh", subject, err)
}
