package tokenguard

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// mint signs an access and a refresh token for p and registers the refresh
// id. No pair is returned unless the ledger accepted the id.
func (e *Engine) mint(ctx context.Context, p Principal) (TokenPair, error) {
	access, accessExp, err := e.tokens.CreateAccess(p.ID, p.Roles.Strings())
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}

	id := uuid.NewString()
	refresh, refreshExp, err := e.tokens.CreateRefresh(p.ID, id)
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint refresh token: %w", err)
	}

	ttl := refreshExp.Sub(e.now())
	if ttl <= 0 {
		return TokenPair{}, fmt.Errorf("mint refresh token: non-positive lifetime %s", ttl)
	}

	lctx, cancel := e.bounded(ctx)
	err = e.ledger.Register(lctx, id, p.ID, ttl)
	cancel()
	if err != nil {
		return TokenPair{}, e.ledgerError("register", err)
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshID:        id,
		RefreshExpiresAt: refreshExp,
		Subject:          p.ID,
	}, nil
}
