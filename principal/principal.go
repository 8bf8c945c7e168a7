package principal

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/authz"
)

var (
	// ErrDuplicateIdentifier is returned when another principal already uses
	// the identifier.
	ErrDuplicateIdentifier = errors.New("principal identifier already in use")
	// ErrInvalidPrincipal is returned for a principal without ID or identifier.
	ErrInvalidPrincipal = errors.New("principal requires id and identifier")
)

// DeleteHook runs after a principal has been removed from a store.
type DeleteHook func(ctx context.Context, id string) error

// Revoker is satisfied by *tokenguard.Engine.
type Revoker interface {
	RevokeSubject(ctx context.Context, subject string) (int, error)
}

// RevokeOnDelete returns a hook revoking every refresh token of the deleted
// principal.
func RevokeOnDelete(r Revoker) DeleteHook {
	return func(ctx context.Context, id string) error {
		_, err := r.RevokeSubject(ctx, id)
		return err
	}
}

func validate(p tokenguard.Principal) error {
	if p.ID == "" || p.Identifier == "" {
		return ErrInvalidPrincipal
	}
	return nil
}

func runHooks(ctx context.Context, hooks []DeleteHook, id string) error {
	var errs []error
	for _, hook := range hooks {
		if err := hook(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// encodeRoles stores a role set as comma-separated names.
func encodeRoles(roles authz.RoleSet) string {
	return roles.String()
}

func decodeRoles(raw string) (authz.RoleSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return authz.ParseRoleSet(parts)
}
