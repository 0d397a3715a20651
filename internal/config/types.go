package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every engine-level option. The cache engine is embedded in a
// host application; nothing here describes HTTP surfaces.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Cache       CacheConfig       `koanf:"cache"`
	Warming     WarmingConfig     `koanf:"warming"`
	DataSources DataSourcesConfig `koanf:"dataSources"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig selects the backend and the entry lifecycle knobs.
type CacheConfig struct {
	Backend       string      `koanf:"backend"`
	KeyPrefix     string      `koanf:"keyPrefix"`
	TTL           string      `koanf:"ttl"`
	MaxEntryBytes int64       `koanf:"maxEntryBytes"`
	Redis         RedisConfig `koanf:"redis"`
}

// RedisConfig carries the connection options for the redis backend.
type RedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// WarmingConfig tunes the proactive refresh pass. Durations are expressed as
// Go duration strings ("15m", "4h") so YAML and env overrides stay readable.
type WarmingConfig struct {
	LockTTL    string `koanf:"lockTTL"`
	Cooldown   string `koanf:"cooldown"`
	StaleAfter string `koanf:"staleAfter"`
	Workers    int    `koanf:"workers"`
}

// DataSourcesConfig points at the data-source definitions document, the one
// piece of configuration that changes while the engine is running.
type DataSourcesConfig struct {
	DefinitionsFile string `koanf:"definitionsFile"`
}

// EntryTTL returns the parsed cache entry TTL.
func (c CacheConfig) EntryTTL() time.Duration {
	return parseDurationOr(c.TTL, 48*time.Hour)
}

// LockTTLDuration returns the parsed warming lock TTL.
func (c WarmingConfig) LockTTLDuration() time.Duration {
	return parseDurationOr(c.LockTTL, 10*time.Minute)
}

// CooldownDuration returns the parsed per-source warming cooldown.
func (c WarmingConfig) CooldownDuration() time.Duration {
	return parseDurationOr(c.Cooldown, 15*time.Minute)
}

// StaleAfterDuration returns the parsed entry-age threshold for warming.
func (c WarmingConfig) StaleAfterDuration() time.Duration {
	return parseDurationOr(c.StaleAfter, 4*time.Hour)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate enforces invariants that keep the engine predictable before any
// backend connection is attempted.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	backend := strings.TrimSpace(strings.ToLower(c.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}
	if strings.ContainsAny(c.Cache.KeyPrefix, ": *?") {
		return fmt.Errorf("config: cache.keyPrefix must not contain separators or glob characters: %q", c.Cache.KeyPrefix)
	}
	if c.Cache.MaxEntryBytes < 0 {
		return fmt.Errorf("config: cache.maxEntryBytes invalid: %d", c.Cache.MaxEntryBytes)
	}
	for field, value := range map[string]string{
		"cache.ttl":          c.Cache.TTL,
		"warming.lockTTL":    c.Warming.LockTTL,
		"warming.cooldown":   c.Warming.Cooldown,
		"warming.staleAfter": c.Warming.StaleAfter,
	} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: %s invalid: %w", field, err)
		}
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive: %s", field, value)
		}
	}
	if c.Warming.Workers < 0 {
		return fmt.Errorf("config: warming.workers invalid: %d", c.Warming.Workers)
	}
	return nil
}

// DefaultConfig returns the baseline values the engine runs with when no
// file or environment overrides are supplied.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Backend:       "memory",
			KeyPrefix:     "dscache",
			TTL:           "48h",
			MaxEntryBytes: 8 << 20,
		},
		Warming: WarmingConfig{
			LockTTL:    "10m",
			Cooldown:   "15m",
			StaleAfter: "4h",
			Workers:    4,
		},
	}
}
