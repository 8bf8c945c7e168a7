package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the algorithm used for both token kinds.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 shared secrets.
	MethodHS256 SigningMethod = "hs256"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

var (
	// ErrExpired marks a correctly signed token whose exp has passed.
	ErrExpired = errors.New("token expired")
	// ErrMalformed marks every other parse or verification failure.
	ErrMalformed = errors.New("token malformed")
)

// Keys holds the material for one token kind. For hs256 only Private is used
// and holds the shared secret. For ed25519 Private may be empty on
// verify-only deployments.
type Keys struct {
	Private []byte
	Public  []byte
}

// Config configures a Manager. AccessKeys and RefreshKeys must differ.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	AccessKeys    Keys
	RefreshKeys   Keys
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	Now           func() time.Time
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Roles []string `json:"roles"`
	Use   string   `json:"use"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. ID carries the ledger key.
type RefreshClaims struct {
	Use string `json:"use"`
	jwt.RegisteredClaims
}

type keyPair struct {
	sign   interface{}
	verify interface{}
}

// Manager mints and verifies access and refresh tokens with separate keys.
// It is safe for concurrent use.
type Manager struct {
	config  Config
	method  jwt.SigningMethod
	access  keyPair
	refresh keyPair
}

// NewManager validates cfg and decodes key material once.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{config: cfg}

	switch cfg.SigningMethod {
	case MethodHS256:
		m.method = jwt.SigningMethodHS256
		if len(cfg.AccessKeys.Private) == 0 || len(cfg.RefreshKeys.Private) == 0 {
			return nil, errors.New("hs256 requires access and refresh secrets")
		}
		if bytes.Equal(cfg.AccessKeys.Private, cfg.RefreshKeys.Private) {
			return nil, errors.New("access and refresh secrets must differ")
		}
		m.access = keyPair{sign: cfg.AccessKeys.Private, verify: cfg.AccessKeys.Private}
		m.refresh = keyPair{sign: cfg.RefreshKeys.Private, verify: cfg.RefreshKeys.Private}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		access, err := edKeyPair("access", cfg.AccessKeys)
		if err != nil {
			return nil, err
		}
		refresh, err := edKeyPair("refresh", cfg.RefreshKeys)
		if err != nil {
			return nil, err
		}
		if access.verify.(ed25519.PublicKey).Equal(refresh.verify) {
			return nil, errors.New("access and refresh keys must differ")
		}
		m.access, m.refresh = access, refresh
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// CreateAccess signs an access token for subject and returns it with its
// expiry.
func (m *Manager) CreateAccess(subject string, roles []string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("empty subject")
	}
	now := m.config.Now()
	claims := AccessClaims{
		Roles:            roles,
		Use:              useAccess,
		RegisteredClaims: m.registered(subject, "", now, m.config.AccessTTL),
	}
	token, err := m.sign(m.access, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// CreateRefresh signs a refresh token carrying id as its jti.
func (m *Manager) CreateRefresh(subject, id string) (string, time.Time, error) {
	if subject == "" || id == "" {
		return "", time.Time{}, errors.New("empty subject or token id")
	}
	now := m.config.Now()
	claims := RefreshClaims{
		Use:              useRefresh,
		RegisteredClaims: m.registered(subject, id, now, m.config.RefreshTTL),
	}
	token, err := m.sign(m.refresh, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// ParseAccess verifies an access token. Failures wrap ErrExpired or
// ErrMalformed.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, m.access, claims); err != nil {
		return nil, err
	}
	if claims.Use != useAccess || claims.Subject == "" {
		return nil, fmt.Errorf("%w: not an access token", ErrMalformed)
	}
	if err := m.checkIssuedAt(claims.IssuedAt); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token. Failures wrap ErrExpired or
// ErrMalformed.
func (m *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, m.refresh, claims); err != nil {
		return nil, err
	}
	if claims.Use != useRefresh || claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrMalformed)
	}
	if err := m.checkIssuedAt(claims.IssuedAt); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) registered(subject, id string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    m.config.Issuer,
	}
	if m.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	return rc
}

func (m *Manager) sign(keys keyPair, claims jwt.Claims) (string, error) {
	if keys.sign == nil {
		return "", errors.New("signing key not configured")
	}
	token, err := jwt.NewWithClaims(m.method, claims).SignedString(keys.sign)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (m *Manager) parse(tokenStr string, keys keyPair, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return keys.verify, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !token.Valid {
		return ErrMalformed
	}
	return nil
}

func (m *Manager) checkIssuedAt(iat *jwt.NumericDate) error {
	if iat == nil {
		return nil
	}
	if iat.Time.After(m.config.Now().Add(m.config.MaxFutureIAT)) {
		return fmt.Errorf("%w: iat too far in the future", ErrMalformed)
	}
	return nil
}

func edKeyPair(kind string, keys Keys) (keyPair, error) {
	var pair keyPair
	if len(keys.Private) > 0 {
		priv, err := parseEdPrivateKey(keys.Private)
		if err != nil {
			return keyPair{}, fmt.Errorf("%s: %w", kind, err)
		}
		pair.sign = priv
		pair.verify = priv.Public().(ed25519.PublicKey)
	}
	if len(keys.Public) > 0 {
		pub, err := parseEdPublicKey(keys.Public)
		if err != nil {
			return keyPair{}, fmt.Errorf("%s: %w", kind, err)
		}
		if pair.verify != nil && !pub.Equal(pair.verify) {
			return keyPair{}, fmt.Errorf("%s: public key does not match private key", kind)
		}
		pair.verify = pub
	}
	if pair.verify == nil {
		return keyPair{}, fmt.Errorf("%s: ed25519 requires a private or public key", kind)
	}
	return pair, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
