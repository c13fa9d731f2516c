// Package config loads the service configuration from environment
// variables. Secrets stay out of flags and files; anything tunable has a
// safe default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Token strategies.
const (
	TokenStrategyOpaque = "opaque"
	TokenStrategySigned = "signed"
)

// Config is the fully resolved service configuration.
type Config struct {
	ListenAddr  string
	PostgresDSN string
	RedisAddr   string

	// MasterKey encrypts tokens and identity payloads at rest (32 bytes).
	MasterKey []byte
	// IndexKey keys the blind index over tokens (independent of MasterKey).
	IndexKey []byte
	// TokenKey signs compact tokens when the signed strategy is active.
	TokenKey []byte

	TokenStrategy string

	AuthorityURL    string
	AuthorityAPIKey string
	AuthoritySecret string

	GeoURL string

	SessionDuration time.Duration
	IdleLimit       time.Duration
	TouchCooldown   time.Duration

	ElevatedAccessLevel  int
	FullAdminAccessLevel int

	ThrottleMaxAttempts int
	ThrottleWindow      time.Duration

	CookieSecure bool
}

// Load reads the configuration from the environment. Missing required
// secrets and malformed values are errors; optional integrations (authority,
// redis, geo) are enabled by the presence of their variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("IDGATE_LISTEN_ADDR", ":8080"),
		PostgresDSN: os.Getenv("IDGATE_PG_DSN"),
		RedisAddr:   os.Getenv("IDGATE_REDIS_ADDR"),

		TokenStrategy: envOr("IDGATE_TOKEN_STRATEGY", TokenStrategyOpaque),

		AuthorityURL:    os.Getenv("IDGATE_AUTHORITY_URL"),
		AuthorityAPIKey: os.Getenv("IDGATE_AUTHORITY_API_KEY"),
		AuthoritySecret: os.Getenv("IDGATE_AUTHORITY_SECRET"),

		GeoURL: os.Getenv("IDGATE_GEO_URL"),
	}

	var err error
	if cfg.MasterKey, err = requireKey("IDGATE_MASTER_KEY", 32); err != nil {
		return nil, err
	}
	// AES-256 wants exactly 32 bytes; longer deployment secrets are allowed
	// and truncated.
	cfg.MasterKey = cfg.MasterKey[:32]
	if cfg.IndexKey, err = requireKey("IDGATE_INDEX_KEY", 32); err != nil {
		return nil, err
	}
	cfg.IndexKey = cfg.IndexKey[:32]

	switch cfg.TokenStrategy {
	case TokenStrategyOpaque:
	case TokenStrategySigned:
		if cfg.TokenKey, err = requireKey("IDGATE_TOKEN_KEY", 32); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("config: IDGATE_TOKEN_STRATEGY must be %q or %q, got %q",
			TokenStrategyOpaque, TokenStrategySigned, cfg.TokenStrategy)
	}

	if cfg.AuthorityURL != "" && (cfg.AuthorityAPIKey == "" || cfg.AuthoritySecret == "") {
		return nil, fmt.Errorf("config: IDGATE_AUTHORITY_URL set but api key or secret missing")
	}

	if cfg.SessionDuration, err = durationOr("IDGATE_SESSION_DURATION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IdleLimit, err = durationOr("IDGATE_IDLE_LIMIT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TouchCooldown, err = durationOr("IDGATE_TOUCH_COOLDOWN", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ThrottleWindow, err = durationOr("IDGATE_THROTTLE_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}

	if cfg.ElevatedAccessLevel, err = intOr("IDGATE_ELEVATED_ACCESS_LEVEL", 1); err != nil {
		return nil, err
	}
	if cfg.FullAdminAccessLevel, err = intOr("IDGATE_FULL_ADMIN_ACCESS_LEVEL", 2); err != nil {
		return nil, err
	}
	if cfg.FullAdminAccessLevel < cfg.ElevatedAccessLevel {
		return nil, fmt.Errorf("config: full-admin access level %d below elevated level %d",
			cfg.FullAdminAccessLevel, cfg.ElevatedAccessLevel)
	}

	if cfg.ThrottleMaxAttempts, err = intOr("IDGATE_THROTTLE_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}

	cfg.CookieSecure = envOr("IDGATE_COOKIE_SECURE", "true") != "false"

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func requireKey(name string, minLen int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, fmt.Errorf("config: %s is required", name)
	}
	if len(raw) < minLen {
		return nil, fmt.Errorf("config: %s must be at least %d bytes", name, minLen)
	}
	return []byte(raw), nil
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}

func intOr(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", name, err)
	}
	return n, nil
}
