package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps every backend connectivity or timeout failure.
	// Callers must treat it as fail-closed, never as "token absent".
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrInvalidEntry is returned for an empty id or subject, or a non-positive TTL.
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// Ledger tracks which refresh-token identifiers are still valid.
//
// An identifier is present iff it has been registered and not yet consumed,
// revoked or expired. Implementations must be safe for concurrent use.
type Ledger interface {
	// Register inserts id owned by subject for ttl. Re-registering an id
	// overwrites it.
	Register(ctx context.Context, id, subject string, ttl time.Duration) error
	// Consume atomically removes id and returns its subject. ok is false when
	// id was absent or expired. Of any number of concurrent calls for the same
	// id at most one observes ok.
	Consume(ctx context.Context, id string) (subject string, ok bool, err error)
	// Revoke removes id. Revoking an absent id is not an error.
	Revoke(ctx context.Context, id string) error
	// RevokeAll removes every id indexed under subject and returns how many
	// live entries were removed.
	RevokeAll(ctx context.Context, subject string) (int, error)
}

func validateEntry(id, subject string, ttl time.Duration) error {
	if id == "" || subject == "" || ttl <= 0 {
		return ErrInvalidEntry
	}
	return nil
}
