package password

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPassword is returned by Hash for an empty input.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrInvalidHash is returned when a stored hash cannot be decoded.
	ErrInvalidHash = errors.New("invalid password hash")
)

// Algorithm names the scheme used for new hashes.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt"
)

// Hasher is the capability the credential verifier depends on.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Config selects the algorithm for new hashes and the cost of each scheme.
type Config struct {
	Algorithm  Algorithm
	Argon2     Argon2Params
	BcryptCost int
}

// Multi hashes with the configured algorithm and verifies any supported
// scheme, selected by the hash prefix.
type Multi struct {
	primary Algorithm
	argon2  *Argon2
	bcrypt  *Bcrypt
}

// New builds a Multi. Both schemes are always constructed so stored hashes of
// either kind verify.
func New(cfg Config) (*Multi, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmArgon2id
	}
	if cfg.Algorithm != AlgorithmArgon2id && cfg.Algorithm != AlgorithmBcrypt {
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	a, err := NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}
	b, err := NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	return &Multi{primary: cfg.Algorithm, argon2: a, bcrypt: b}, nil
}

func (m *Multi) Hash(password string) (string, error) {
	if m.primary == AlgorithmBcrypt {
		return m.bcrypt.Hash(password)
	}
	return m.argon2.Hash(password)
}

func (m *Multi) Verify(password string, encodedHash string) (bool, error) {
	h, err := m.schemeFor(encodedHash)
	if err != nil {
		return false, err
	}
	return h.Verify(password, encodedHash)
}

// NeedsUpgrade also reports true for hashes of the non-primary scheme.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	scheme := detect(encodedHash)
	if scheme == "" {
		return false, ErrInvalidHash
	}
	if scheme != m.primary {
		return true, nil
	}
	h, _ := m.schemeFor(encodedHash)
	return h.NeedsUpgrade(encodedHash)
}

func (m *Multi) schemeFor(encodedHash string) (Hasher, error) {
	switch detect(encodedHash) {
	case AlgorithmArgon2id:
		return m.argon2, nil
	case AlgorithmBcrypt:
		return m.bcrypt, nil
	default:
		return nil, ErrInvalidHash
	}
}

func detect(encodedHash string) Algorithm {
	switch {
	case strings.HasPrefix(encodedHash, "$"+argon2ID+"$"):
		return AlgorithmArgon2id
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		return AlgorithmBcrypt
	default:
		return ""
	}
}
