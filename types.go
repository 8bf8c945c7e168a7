package tokenguard

import (
	"context"
	"time"

	"github.com/MrEthical07/tokenguard/authz"
)

// Principal is the authenticatable account as seen by the core. The core only
// reads it.
type Principal struct {
	ID           string
	Identifier   string
	PasswordHash string
	Roles        authz.RoleSet
}

// PrincipalStore is the external user store. Both lookups return
// ErrPrincipalNotFound when no principal matches. Any other error is treated
// as backend unavailability.
type PrincipalStore interface {
	PrincipalByIdentifier(ctx context.Context, identifier string) (Principal, error)
	PrincipalByID(ctx context.Context, id string) (Principal, error)
}

// TokenPair is the result of a login or a successful rotation.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshID        string
	RefreshExpiresAt time.Time
	Subject          string
}

// Claims is a verified access token.
type Claims struct {
	Subject   string
	Roles     authz.RoleSet
	ExpiresAt time.Time
}

// AuthzSubject adapts c for guard evaluation.
func (c Claims) AuthzSubject() authz.Subject {
	return authz.Subject{ID: c.Subject, Roles: c.Roles}
}
