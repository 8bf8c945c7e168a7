package tokenguard

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/tokenguard/internal/audit"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/ledger"
	"github.com/MrEthical07/tokenguard/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	ledger ledger.Ledger

	principals PrincipalStore
	hasher     password.Hasher
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is deep-copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs the refresh ledger with client, keyed under
// Config.Ledger.RedisPrefix. It is ignored when WithLedger is also used.
// Cluster and ring clients are rejected by Build.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLedger injects a ledger implementation directly.
func (b *Builder) WithLedger(l ledger.Ledger) *Builder {
	b.ledger = l
	return b
}

// WithPrincipalStore sets the credential and role source. It is required.
func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.principals = store
	return b
}

// WithHasher overrides the hasher derived from Config.Password. It must
// verify the hashes stored in the principal store.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithAuditSink sets the audit destination. Events are only dispatched when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. Logging is discarded by default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for token timestamps. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled overrides Config.Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms overrides Config.Metrics.EnableLatencyHistograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.principals == nil {
		return nil, errors.New("principal store required")
	}

	// -------- LEDGER --------
	store := b.ledger
	if store == nil {
		if b.redis == nil {
			return nil, errors.New("refresh ledger required: use WithLedger or WithRedis")
		}
		if err := ledger.CheckClient(b.redis); err != nil {
			return nil, err
		}
		store = ledger.NewRedisLedger(b.redis, cfg.Ledger.RedisPrefix)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.Tokens.SigningMethod),
		AccessKeys: jwt.Keys{
			Private: cloneBytes(cfg.Tokens.AccessSecret),
			Public:  cloneBytes(cfg.Tokens.AccessPublicKey),
		},
		RefreshKeys: jwt.Keys{
			Private: cloneBytes(cfg.Tokens.RefreshSecret),
			Public:  cloneBytes(cfg.Tokens.RefreshPublicKey),
		},
		Issuer:   cfg.Tokens.Issuer,
		Audience: cfg.Tokens.Audience,
		Leeway:   cfg.Tokens.Leeway,
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		multi, err := password.New(passwordConfig(cfg.Password))
		if err != nil {
			return nil, fmt.Errorf("password hasher: %w", err)
		}
		hasher = multi
	}
	dummy, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled && b.auditSink != nil {
		dispatcher = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink)
	}

	engine := &Engine{
		config:     cfg,
		tokens:     tokens,
		ledger:     store,
		principals: b.principals,
		hasher:     hasher,
		dummyHash:  dummy,
		audit:      dispatcher,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		now:        now,
	}

	b.built = true
	return engine, nil
}

func passwordConfig(cfg PasswordConfig) password.Config {
	return password.Config{
		Algorithm: password.Algorithm(cfg.Algorithm),
		Argon2: password.Argon2Params{
			Memory:      cfg.Memory,
			Time:        cfg.Time,
			Parallelism: cfg.Parallelism,
			SaltLength:  cfg.SaltLength,
			KeyLength:   cfg.KeyLength,
		},
		BcryptCost: cfg.BcryptCost,
	}
}

// NewHasher builds the password hasher described by cfg, for seeding
// principal stores with hashes the engine will accept.
func NewHasher(cfg PasswordConfig) (password.Hasher, error) {
	return password.New(passwordConfig(cfg))
}
