package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. TIMEBANK_DB_PATH.
const EnvPrefix = "TIMEBANK_"

// Load builds a Config by layering, from lowest to highest precedence:
//  1. defaults (New)
//  2. the YAML file at path, or at TIMEBANK_CONFIG when path is empty
//  3. TIMEBANK_* environment variables
func Load(_ context.Context, path string) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrLoadConfig, path, err)
		}
	}

	// TIMEBANK_SWEEP_INTERVAL -> sweep_interval; keys stay flat.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch {
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.MaxBalance <= 0:
		return fmt.Errorf("%w: max_balance must be positive", ErrInvalidConfig)
	case c.SurveyWindow <= 0:
		return fmt.Errorf("%w: survey_window must be positive", ErrInvalidConfig)
	case c.SweepInterval <= 0:
		return fmt.Errorf("%w: sweep_interval must be positive", ErrInvalidConfig)
	case c.RateLimitPerMinute <= 0:
		return fmt.Errorf("%w: rate_limit_per_minute must be positive", ErrInvalidConfig)
	case c.BackupInterval < 0 || c.BackupRetentionDays < 0:
		return fmt.Errorf("%w: backup_interval and backup_retention_days must not be negative", ErrInvalidConfig)
	case c.BackupsEnabled() && c.BackupPassphrase == "":
		return fmt.Errorf("%w: backup_passphrase is required when backups are enabled", ErrInvalidConfig)
	}
	return nil
}
