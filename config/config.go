// Package config loads liquidatord's TOML configuration, applying defaults
// and validation, modeled on nhbchain's root config package and
// services/payoutd/config.go.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration to support TOML unmarshalling from human
// readable strings like "200ms" or "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string; toml.Decode dispatches to this for
// any field typed Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration back to its string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config captures liquidatord's runtime configuration.
type Config struct {
	ListenAddress     string   `toml:"ListenAddress"`
	Env               string   `toml:"Env"`
	LogLevel          string   `toml:"LogLevel"`
	TickPeriod        Duration `toml:"TickPeriod"`
	FreshnessWindow   Duration `toml:"FreshnessWindow"`
	Cooldown          Duration `toml:"Cooldown"`
	MaxOracleStale    Duration `toml:"MaxOracleStale"`
	LiquidatorRewardBps uint64 `toml:"LiquidatorRewardBps"`
	QueueCapacity     int      `toml:"QueueCapacity"`
	InsuranceSeed     uint64   `toml:"InsuranceSeedBalance"`
}

// Load reads configuration from path, applying defaults for any field left
// unset. A missing file is not an error: defaults are used in full so the
// daemon can run standalone for local development.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TickPeriod.Duration == 0 {
		cfg.TickPeriod.Duration = 1000 * time.Millisecond
	}
	if cfg.FreshnessWindow.Duration == 0 {
		cfg.FreshnessWindow.Duration = 200 * time.Millisecond
	}
	if cfg.Cooldown.Duration == 0 {
		cfg.Cooldown.Duration = 5 * time.Second
	}
	if cfg.MaxOracleStale.Duration == 0 {
		cfg.MaxOracleStale.Duration = 30 * time.Second
	}
	if cfg.LiquidatorRewardBps == 0 {
		cfg.LiquidatorRewardBps = 250
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 4096
	}
}

func validate(cfg Config) error {
	if cfg.TickPeriod.Duration <= 0 {
		return fmt.Errorf("config: TickPeriod must be positive")
	}
	if cfg.FreshnessWindow.Duration <= 0 {
		return fmt.Errorf("config: FreshnessWindow must be positive")
	}
	if cfg.Cooldown.Duration <= 0 {
		return fmt.Errorf("config: Cooldown must be positive")
	}
	if cfg.MaxOracleStale.Duration <= 0 {
		return fmt.Errorf("config: MaxOracleStale must be positive")
	}
	if cfg.LiquidatorRewardBps == 0 || cfg.LiquidatorRewardBps > 10_000 {
		return fmt.Errorf("config: LiquidatorRewardBps must be in (0, 10000]")
	}
	if cfg.QueueCapacity <= 0 {
		return fmt.Errorf("config: QueueCapacity must be positive")
	}
	return nil
}
