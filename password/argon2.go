package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2ID              = "argon2id"
)

// Argon2Params are the Argon2id cost parameters used for new hashes.
type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2 hashes and verifies Argon2id PHC strings.
type Argon2 struct {
	params Argon2Params
}

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
}

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$%s$%s$%s",
		argon2ID,
		argon2.Version,
		formatCosts(p.memory, p.time, p.parallelism),
		base64.StdEncoding.EncodeToString(p.salt),
		base64.StdEncoding.EncodeToString(p.key),
	)
}

func formatCosts(memory, time uint32, parallelism uint8) string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", memory, time, parallelism)
}

// NewArgon2 validates params against the package minimums.
func NewArgon2(params Argon2Params) (*Argon2, error) {
	if err := validateArgon2Params(params); err != nil {
		return nil, err
	}

	return &Argon2{params: params}, nil
}

// Hash derives a PHC string for password with a fresh random salt.
// Password bytes are used exactly as provided.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	p := phc{
		memory:      a.params.Memory,
		time:        a.params.Time,
		parallelism: a.params.Parallelism,
		salt:        make([]byte, a.params.SaltLength),
		key:         make([]byte, a.params.KeyLength),
	}
	if _, err := io.ReadFull(rand.Reader, p.salt); err != nil {
		return "", err
	}
	p.key = p.derive(password)

	return p.String(), nil
}

// Verify recomputes the hash with the parameters stored in encodedHash and
// compares in constant time. A mismatch is (false, nil); a malformed hash is
// an error.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current ones.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	weaker := p.memory < a.params.Memory ||
		p.time < a.params.Time ||
		p.parallelism < a.params.Parallelism ||
		uint32(len(p.key)) != a.params.KeyLength
	return weaker, nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidHash, reason)
}

// decodePHC accepts only the canonical form Hash writes. Costs must appear
// as m, t, p in that order and meet the package minimums.
func decodePHC(encoded string) (phc, error) {
	var p phc

	rest, ok := strings.CutPrefix(encoded, "$"+argon2ID+"$")
	if !ok {
		return p, malformed("not an argon2id hash")
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return p, malformed("expected version, costs, salt and key")
	}

	if fields[0] != "v="+strconv.Itoa(argon2.Version) {
		return p, malformed("unsupported version " + fields[0])
	}

	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return p, malformed("unreadable costs")
	}
	if formatCosts(p.memory, p.time, p.parallelism) != fields[1] {
		return p, malformed("non-canonical costs")
	}
	if p.memory < minMemoryKB || p.time < minTimeCost || p.parallelism < minParallelism {
		return p, malformed("costs below minimum")
	}

	var err error
	if p.salt, err = base64.StdEncoding.DecodeString(fields[2]); err != nil || len(p.salt) < int(minSaltLength) {
		return p, malformed("bad salt")
	}
	if p.key, err = base64.StdEncoding.DecodeString(fields[3]); err != nil || len(p.key) == 0 {
		return p, malformed("bad key")
	}
	return p, nil
}

func validateArgon2Params(cfg Argon2Params) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}

	return nil
}
