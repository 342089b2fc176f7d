// Package config loads the control-plane configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/navcom/groupctl/internal/capability"
	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
	"github.com/navcom/groupctl/internal/rotation"
)

// Environment variables that override secrets from the file.
const (
	EnvDSN       = "GROUPCTL_DSN"
	EnvJWTKey    = "GROUPCTL_JWT_KEY"
	EnvSignerKey = "GROUPCTL_SIGNER_KEY"
	EnvStoreKey  = "GROUPCTL_STORE_KEY"
)

// Config is the full server configuration.
type Config struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
	Dev      bool   `yaml:"dev"`

	TLS        TLS        `yaml:"tls"`
	Postgres   Postgres   `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Auth       Auth       `yaml:"auth"`
	Relays     Relays     `yaml:"relays"`
	Capability Capability `yaml:"capability"`
	Projection Projection `yaml:"projection"`
	Keys       Keys       `yaml:"keys"`
	Rotation   Rotation   `yaml:"rotation"`
	Dispatch   Dispatch   `yaml:"dispatch"`
	Store      Store      `yaml:"secure_store"`
}

// TLS names the server certificate. Empty paths serve plaintext.
type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// Postgres configures the database. An empty DSN keeps state in memory.
type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

// Redis configures the shared capability snapshot store. An empty Addr disables it.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Auth configures bearer tokens.
type Auth struct {
	JWTKey   string        `yaml:"jwt_key"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Relays lists the relays and the operator signing key.
type Relays struct {
	URLs      []string `yaml:"urls"`
	SignerKey string   `yaml:"signer_key"` // hex secret key
	// SignerNip44 reports NIP-44 support of the signer to capability probes.
	SignerNip44 bool `yaml:"signer_nip44"`
}

// Capability holds probe cache windows in seconds.
type Capability struct {
	TTL      int64 `yaml:"ttl"`
	StaleTTL int64 `yaml:"stale_ttl"`
}

// Projection controls checkpoint staleness and persistence.
type Projection struct {
	StaleAfter         int64         `yaml:"stale_after"`
	RecoverStale       bool          `yaml:"recover_stale"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// Keys configures session keys.
type Keys struct {
	SessionTTL int64 `yaml:"session_ttl"`
}

// Rotation is the rotation policy plus the runner interval.
type Rotation struct {
	rotation.Policy `yaml:",inline"`
	Interval        time.Duration `yaml:"interval"`
}

// Dispatch configures command defaults and the denial limiter.
type Dispatch struct {
	DefaultTier   int           `yaml:"default_tier"`
	AllowFallback bool          `yaml:"allow_fallback"`
	SecurePilot   bool          `yaml:"secure_pilot"`
	Retries       int           `yaml:"retries"`
	LimitWindow   time.Duration `yaml:"limit_window"`
	LimitFails    int           `yaml:"limit_fails"`
	LimitBlockFor time.Duration `yaml:"limit_block_for"`
}

// Store configures secure state encryption.
type Store struct {
	RootKey string `yaml:"root_key"`
}

// Default returns a configuration that runs without external services.
func Default() Config {
	return Config{
		GRPCAddr: ":8443",
		HTTPAddr: ":9090",
		Auth:     Auth{TokenTTL: time.Hour},
		Capability: Capability{
			TTL:      capability.DefaultTTL,
			StaleTTL: capability.DefaultStaleTTL,
		},
		Projection: Projection{
			StaleAfter:         projection.DefaultStaleAfter,
			CheckpointInterval: time.Minute,
		},
		Keys:     Keys{SessionTTL: keys.DefaultSessionTTL},
		Rotation: Rotation{Policy: rotation.DefaultPolicy(), Interval: 15 * time.Second},
		Dispatch: Dispatch{
			DefaultTier:   int(model.Tier0),
			AllowFallback: true,
			Retries:       1,
			LimitWindow:   15 * time.Minute,
			LimitFails:    5,
			LimitBlockFor: 15 * time.Minute,
		},
	}
}

// Load reads path over Default and applies environment overrides. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDSN); ok {
		c.Postgres.DSN = v
	}
	if v, ok := lookup(EnvJWTKey); ok {
		c.Auth.JWTKey = v
	}
	if v, ok := lookup(EnvSignerKey); ok {
		c.Relays.SignerKey = v
	}
	if v, ok := lookup(EnvStoreKey); ok {
		c.Store.RootKey = v
	}
}

// Tier returns the default mission tier.
func (c Config) Tier() model.MissionTier { return model.MissionTier(c.Dispatch.DefaultTier) }

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var problems []error
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}
	if c.GRPCAddr == "" {
		bad("grpc_addr is required")
	}
	if c.Auth.JWTKey == "" {
		bad("auth.jwt_key is required")
	}
	if c.Auth.TokenTTL <= 0 {
		bad("auth.token_ttl must be positive")
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		bad("tls.cert and tls.key must be set together")
	}
	if c.Capability.TTL <= 0 {
		bad("capability.ttl must be positive")
	}
	if c.Capability.StaleTTL < c.Capability.TTL {
		bad("capability.stale_ttl must not be below capability.ttl")
	}
	if c.Projection.StaleAfter <= 0 {
		bad("projection.stale_after must be positive")
	}
	if c.Projection.CheckpointInterval <= 0 {
		bad("projection.checkpoint_interval must be positive")
	}
	if c.Keys.SessionTTL <= 0 {
		bad("keys.session_ttl must be positive")
	}
	if c.Rotation.MaxKeyAge <= 0 || c.Rotation.RetryBaseDelay <= 0 || c.Rotation.RetryMaxDelay <= 0 {
		bad("rotation delays and max_key_age must be positive")
	}
	if c.Rotation.RetryBaseDelay > c.Rotation.RetryMaxDelay {
		bad("rotation.retry_base_delay must not exceed rotation.retry_max_delay")
	}
	if c.Rotation.MaxRetries < 0 {
		bad("rotation.max_retries must not be negative")
	}
	if c.Rotation.Interval <= 0 {
		bad("rotation.interval must be positive")
	}
	if !c.Tier().Valid() {
		bad("dispatch.default_tier must be 0, 1 or 2, got %d", c.Dispatch.DefaultTier)
	}
	if c.Dispatch.Retries < 0 {
		bad("dispatch.retries must not be negative")
	}
	return errors.Join(problems...)
}
