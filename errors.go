package tokenguard

import (
	"errors"

	"github.com/MrEthical07/tokenguard/authz"
)

var (
	// ErrInvalidCredentials is returned for an unknown identifier, a wrong
	// secret, or a principal that no longer exists at refresh time.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenMalformed is returned for tokens that fail signature, algorithm,
	// claim-shape or kind checks.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned for correctly signed tokens past their exp.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenReuseDetected is returned when a refresh token is presented
	// after it was consumed or revoked. Every refresh token of the subject has
	// been revoked by the time the caller sees it.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrForbidden is returned by authorization guards.
	ErrForbidden = authz.ErrForbidden
	// ErrNotFound is returned by resource lookups before guards run.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when the ledger or principal store cannot be
	// reached. The request is denied and may be retried.
	ErrUnavailable = errors.New("auth backend unavailable")
	// ErrPrincipalNotFound is returned by PrincipalStore implementations.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrEngineNotReady is returned when a nil or unbuilt Engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind is the stable, wire-safe classification of an engine error.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindTokenMalformed     ErrorKind = "token_malformed"
	KindTokenExpired       ErrorKind = "token_expired"
	KindTokenReuseDetected ErrorKind = "token_reuse_detected"
	KindForbidden          ErrorKind = "forbidden"
	KindNotFound           ErrorKind = "not_found"
	KindUnavailable        ErrorKind = "unavailable"
	KindInternal           ErrorKind = "internal"
)

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTokenReuseDetected):
		return KindTokenReuseDetected
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrTokenExpired):
		return KindTokenExpired
	case errors.Is(err, ErrTokenMalformed):
		return KindTokenMalformed
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// Retryable reports whether the same request may succeed later unchanged.
func (k ErrorKind) Retryable() bool {
	return k == KindUnavailable
}

// Authentication reports whether k means the caller is not authenticated.
func (k ErrorKind) Authentication() bool {
	switch k {
	case KindInvalidCredentials, KindTokenMalformed, KindTokenExpired, KindTokenReuseDetected:
		return true
	default:
		return false
	}
}
