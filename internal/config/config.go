// Package config defines the timebank process configuration and how it is
// layered from defaults, an optional YAML file and TIMEBANK_ environment
// variables.
package config

import "time"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file.
	DBPath string `koanf:"db_path"`

	// JWTSecret verifies HS256 bearer tokens. Tokens are issued elsewhere.
	JWTSecret string `koanf:"jwt_secret"`

	// MaxBalance caps any user's time balance, in hours.
	MaxBalance float64 `koanf:"max_balance"`

	// SurveyWindow is how long parties have to submit surveys after work is
	// marked finished.
	SurveyWindow time.Duration `koanf:"survey_window"`

	// SweepInterval is how often expired surveys are swept.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// TestingEndpoints mounts PUT /api/testing/balance.
	TestingEndpoints bool `koanf:"testing_endpoints"`

	// RateLimitPerMinute bounds every authenticated /api request, reads
	// included, per user.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// WSOrigins lists host patterns allowed to open the /ws feed from a
	// browser. Same-origin requests are always allowed.
	WSOrigins []string `koanf:"ws_origins"`

	// Backups are disabled unless a bucket and credentials are set.
	BackupEndpoint   string `koanf:"backup_endpoint"`
	BackupBucket     string `koanf:"backup_bucket"`
	BackupRegion     string `koanf:"backup_region"`
	BackupAccessKey  string `koanf:"backup_access_key"`
	BackupSecretKey  string `koanf:"backup_secret_key"`
	BackupPrefix     string `koanf:"backup_prefix"`
	BackupPassphrase string `koanf:"backup_passphrase"`

	// BackupInterval is how often snapshots are taken. Zero disables the
	// schedule; admins can still trigger one.
	BackupInterval time.Duration `koanf:"backup_interval"`

	// BackupRetentionDays deletes snapshots older than this. Zero keeps
	// them forever.
	BackupRetentionDays int `koanf:"backup_retention_days"`
}

// BackupsEnabled reports whether object storage is configured.
func (c *Config) BackupsEnabled() bool {
	return c.BackupBucket != "" && c.BackupAccessKey != "" && c.BackupSecretKey != ""
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":8080",
		DBPath:              "timebank.db",
		MaxBalance:          10,
		SurveyWindow:        24 * time.Hour,
		SweepInterval:       time.Hour,
		RateLimitPerMinute:  120,
		BackupRegion:        "us-east-1",
		BackupPrefix:        "timebank",
		BackupInterval:      24 * time.Hour,
		BackupRetentionDays: 30,
	}
}
