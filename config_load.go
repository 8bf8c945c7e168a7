package tokenguard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAccessSecret  = "TOKENGUARD_ACCESS_SECRET"
	EnvRefreshSecret = "TOKENGUARD_REFRESH_SECRET"
	EnvEnvironment   = "TOKENGUARD_ENV"
)

type fileConfig struct {
	Environment string `yaml:"environment"`
	Tokens      struct {
		AccessTTL     string `yaml:"access_ttl"`
		RefreshTTL    string `yaml:"refresh_ttl"`
		SigningMethod string `yaml:"signing_method"`
		AccessSecret  string `yaml:"access_secret"`
		RefreshSecret string `yaml:"refresh_secret"`
		Issuer        string `yaml:"issuer"`
		Audience      string `yaml:"audience"`
		Leeway        string `yaml:"leeway"`
	} `yaml:"tokens"`
	Ledger struct {
		RedisPrefix      string `yaml:"redis_prefix"`
		OperationTimeout string `yaml:"operation_timeout"`
	} `yaml:"ledger"`
	Password struct {
		Algorithm   string `yaml:"algorithm"`
		Memory      uint32 `yaml:"memory_kb"`
		Time        uint32 `yaml:"time"`
		Parallelism uint8  `yaml:"parallelism"`
		BcryptCost  int    `yaml:"bcrypt_cost"`
	} `yaml:"password"`
	Cookie struct {
		Name     string `yaml:"name"`
		Path     string `yaml:"path"`
		Domain   string `yaml:"domain"`
		Secure   *bool  `yaml:"secure"`
		SameSite string `yaml:"same_site"`
	} `yaml:"cookie"`
	Audit struct {
		Enabled    bool `yaml:"enabled"`
		BufferSize int  `yaml:"buffer_size"`
	} `yaml:"audit"`
	Metrics struct {
		Enabled           *bool `yaml:"enabled"`
		LatencyHistograms bool  `yaml:"latency_histograms"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig reads a YAML file over DefaultConfig and applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		data = b
	}
	return ParseConfig(data, os.Getenv)
}

// ParseConfig decodes YAML over DefaultConfig. getenv supplies overrides and
// may be nil.
func ParseConfig(data []byte, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	var fc fileConfig
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	setString(&cfg.Environment, fc.Environment)
	setString(&cfg.Environment, getenv(EnvEnvironment))

	if err := setTTL(&cfg.Tokens.AccessTTL, fc.Tokens.AccessTTL, "tokens.access_ttl"); err != nil {
		return Config{}, err
	}
	if err := setTTL(&cfg.Tokens.RefreshTTL, fc.Tokens.RefreshTTL, "tokens.refresh_ttl"); err != nil {
		return Config{}, err
	}
	if err := setTTL(&cfg.Tokens.Leeway, fc.Tokens.Leeway, "tokens.leeway"); err != nil {
		return Config{}, err
	}
	setString(&cfg.Tokens.SigningMethod, strings.ToLower(fc.Tokens.SigningMethod))
	setString(&cfg.Tokens.Issuer, fc.Tokens.Issuer)
	setString(&cfg.Tokens.Audience, fc.Tokens.Audience)
	setBytes(&cfg.Tokens.AccessSecret, fc.Tokens.AccessSecret)
	setBytes(&cfg.Tokens.RefreshSecret, fc.Tokens.RefreshSecret)
	setBytes(&cfg.Tokens.AccessSecret, getenv(EnvAccessSecret))
	setBytes(&cfg.Tokens.RefreshSecret, getenv(EnvRefreshSecret))

	setString(&cfg.Ledger.RedisPrefix, fc.Ledger.RedisPrefix)
	if err := setTTL(&cfg.Ledger.OperationTimeout, fc.Ledger.OperationTimeout, "ledger.operation_timeout"); err != nil {
		return Config{}, err
	}

	setString(&cfg.Password.Algorithm, strings.ToLower(fc.Password.Algorithm))
	if fc.Password.Memory > 0 {
		cfg.Password.Memory = fc.Password.Memory
	}
	if fc.Password.Time > 0 {
		cfg.Password.Time = fc.Password.Time
	}
	if fc.Password.Parallelism > 0 {
		cfg.Password.Parallelism = fc.Password.Parallelism
	}
	if fc.Password.BcryptCost > 0 {
		cfg.Password.BcryptCost = fc.Password.BcryptCost
	}

	setString(&cfg.Cookie.Name, fc.Cookie.Name)
	setString(&cfg.Cookie.Path, fc.Cookie.Path)
	setString(&cfg.Cookie.Domain, fc.Cookie.Domain)
	setString(&cfg.Cookie.SameSite, strings.ToLower(fc.Cookie.SameSite))
	switch {
	case fc.Cookie.Secure != nil:
		cfg.Cookie.Secure = *fc.Cookie.Secure
	case cfg.IsProduction():
		cfg.Cookie.Secure = true
	}

	cfg.Audit.Enabled = fc.Audit.Enabled
	if fc.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = fc.Audit.BufferSize
	}
	if fc.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *fc.Metrics.Enabled
	}
	cfg.Metrics.EnableLatencyHistograms = fc.Metrics.LatencyHistograms

	setString(&cfg.Log.Level, strings.ToLower(fc.Log.Level))
	setString(&cfg.Log.Format, strings.ToLower(fc.Log.Format))

	return cfg, nil
}

// ParseTTL parses "<n><unit>" with unit one of s, m, h, d, such as "15m" or
// "7d". Any other input is handed to time.ParseDuration, so "1h30m" also
// works. The result must be positive.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid ttl %q", s)
	}

	unit := s[len(s)-1]
	if n, err := strconv.ParseInt(s[:len(s)-1], 10, 64); err == nil {
		var d time.Duration
		switch unit {
		case 's':
			d = time.Duration(n) * time.Second
		case 'm':
			d = time.Duration(n) * time.Minute
		case 'h':
			d = time.Duration(n) * time.Hour
		case 'd':
			d = time.Duration(n) * 24 * time.Hour
		default:
			return 0, fmt.Errorf("invalid ttl unit in %q", s)
		}
		if d <= 0 {
			return 0, fmt.Errorf("ttl %q must be positive", s)
		}
		return d, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ttl %q must be positive", s)
	}
	return d, nil
}

func setTTL(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := ParseTTL(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBytes(dst *[]byte, v string) {
	if v != "" {
		*dst = []byte(v)
	}
}
