package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// dummySecret is hashed once at build time. Unknown identifiers are compared
// against that hash so they cost the same as a wrong secret.
const dummySecret = "tokenguard-dummy-credential"

func (e *Engine) verify(ctx context.Context, identifier, secret string) (Principal, error) {
	if identifier == "" || secret == "" {
		e.burnDummy(secret)
		return Principal{}, ErrInvalidCredentials
	}

	sctx, cancel := e.bounded(ctx)
	p, err := e.principals.PrincipalByIdentifier(sctx, identifier)
	cancel()
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.burnDummy(secret)
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, fmt.Errorf("%w: principal store: %v", ErrUnavailable, err)
	}

	ok, err := e.hasher.Verify(secret, p.PasswordHash)
	if err != nil {
		// A stored hash we cannot parse is a data problem, not the caller's.
		e.logger.LogAttrs(ctx, slog.LevelError, "stored credential unreadable",
			slog.String("subject", p.ID),
			slog.String("error", err.Error()),
		)
		return Principal{}, ErrInvalidCredentials
	}
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}

	if upgrade, _ := e.hasher.NeedsUpgrade(p.PasswordHash); upgrade {
		e.logger.LogAttrs(ctx, slog.LevelInfo, "credential hash uses outdated parameters",
			slog.String("subject", p.ID),
		)
	}
	return p, nil
}

func (e *Engine) burnDummy(secret string) {
	if e.dummyHash == "" {
		return
	}
	if secret == "" {
		secret = dummySecret
	}
	_, _ = e.hasher.Verify(secret, e.dummyHash)
}

func (e *Engine) principalByID(ctx context.Context, id string) (Principal, error) {
	sctx, cancel := e.bounded(ctx)
	defer cancel()

	p, err := e.principals.PrincipalByID(sctx, id)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Principal{}, err
		}
		return Principal{}, fmt.Errorf("%w: principal store: %v", ErrUnavailable, err)
	}
	return p, nil
}
