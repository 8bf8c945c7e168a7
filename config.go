package tokenguard

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config is the complete engine configuration. Build one with DefaultConfig,
// LoadConfig or by hand, then pass it to Builder.WithConfig.
type Config struct {
	Environment string
	Tokens      TokensConfig
	Ledger      LedgerConfig
	Password    PasswordConfig
	Cookie      CookieConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Log         LogConfig
}

/*
====================================
TOKENS CONFIG
====================================
*/

// TokensConfig controls access and refresh token minting. AccessSecret and
// RefreshSecret hold the hs256 secrets, or the ed25519 private keys (raw or
// PEM) when SigningMethod is "ed25519". They must differ.
type TokensConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	SigningMethod    string // "hs256" (default) or "ed25519"
	AccessSecret     []byte
	RefreshSecret    []byte
	AccessPublicKey  []byte
	RefreshPublicKey []byte
	Issuer           string
	Audience         string
	Leeway           time.Duration
}

/*
====================================
LEDGER CONFIG
====================================
*/

// LedgerConfig controls the refresh ledger. OperationTimeout bounds every
// ledger call; exceeding it fails the request closed.
type LedgerConfig struct {
	RedisPrefix      string
	OperationTimeout time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hashing scheme for new credentials.
type PasswordConfig struct {
	Algorithm   string // "argon2id" (default) or "bcrypt"
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	BcryptCost  int
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig shapes the refresh-token cookie. Path should cover only the
// refresh and logout endpoints.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	// Secure forces the Secure attribute. ParseConfig turns it on in
	// production unless the file says otherwise, and Validate requires it there.
	Secure   bool
	SameSite string // "lax" (default) or "strict"
}

// SameSiteMode maps SameSite to its net/http value.
func (c CookieConfig) SameSiteMode() http.SameSite {
	if strings.EqualFold(c.SameSite, "strict") {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

/*
====================================
AUDIT / METRICS / LOG CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables in-process counters and the authenticate latency
// histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// LogConfig is consumed by the command-line server when it builds its logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a development configuration without secrets.
func DefaultConfig() Config {
	return Config{
		Environment: "development",
		Tokens: TokensConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
		},
		Ledger: LedgerConfig{
			RedisPrefix:      "tg",
			OperationTimeout: 2 * time.Second,
		},
		Password: PasswordConfig{
			Algorithm:   "argon2id",
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			BcryptCost:  10,
		},
		Cookie: CookieConfig{
			Name:     "refresh_token",
			Path:     "/auth/token",
			SameSite: "lax",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// IsProduction reports whether Environment is "production".
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks internal consistency. It does not check key encodings;
// Build does that when it constructs the token manager.
func (c *Config) Validate() error {
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= c.Tokens.AccessTTL {
		return errors.New("Tokens RefreshTTL must be greater than AccessTTL")
	}
	switch c.Tokens.SigningMethod {
	case "hs256", "ed25519":
	default:
		return errors.New("unsupported Tokens SigningMethod")
	}
	if c.Tokens.SigningMethod == "hs256" {
		if len(c.Tokens.AccessSecret) == 0 || len(c.Tokens.RefreshSecret) == 0 {
			return errors.New("hs256 requires AccessSecret and RefreshSecret")
		}
		if len(c.Tokens.AccessSecret) < 32 || len(c.Tokens.RefreshSecret) < 32 {
			return errors.New("hs256 secrets must be at least 32 bytes")
		}
	}
	if len(c.Tokens.AccessSecret) > 0 && bytes.Equal(c.Tokens.AccessSecret, c.Tokens.RefreshSecret) {
		return errors.New("AccessSecret and RefreshSecret must differ")
	}
	if c.Tokens.Leeway < 0 || c.Tokens.Leeway > 2*time.Minute {
		return errors.New("Tokens Leeway must be within [0, 2m]")
	}

	if c.Ledger.OperationTimeout <= 0 {
		return errors.New("Ledger OperationTimeout must be > 0")
	}
	if strings.ContainsAny(c.Ledger.RedisPrefix, " \t\n") {
		return errors.New("Ledger RedisPrefix must not contain whitespace")
	}

	switch c.Password.Algorithm {
	case "", "argon2id", "bcrypt":
	default:
		return errors.New("unsupported Password Algorithm")
	}

	if c.Cookie.Name == "" {
		return errors.New("Cookie Name is required")
	}
	if !strings.HasPrefix(c.Cookie.Path, "/") || c.Cookie.Path == "/" {
		return errors.New("Cookie Path must be a scoped absolute path")
	}
	switch strings.ToLower(c.Cookie.SameSite) {
	case "", "lax", "strict":
	default:
		return errors.New("Cookie SameSite must be lax or strict")
	}
	if c.IsProduction() && !c.Cookie.Secure {
		return errors.New("Cookie Secure is required in production")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.AccessSecret = cloneBytes(cfg.Tokens.AccessSecret)
	out.Tokens.RefreshSecret = cloneBytes(cfg.Tokens.RefreshSecret)
	out.Tokens.AccessPublicKey = cloneBytes(cfg.Tokens.AccessPublicKey)
	out.Tokens.RefreshPublicKey = cloneBytes(cfg.Tokens.RefreshPublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
