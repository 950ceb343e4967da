package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukerupert/timebank/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"TIMEBANK_CONFIG",
	"TIMEBANK_ADDR",
	"TIMEBANK_DB_PATH",
	"TIMEBANK_MAX_BALANCE",
	"TIMEBANK_SURVEY_WINDOW",
	"TIMEBANK_SWEEP_INTERVAL",
	"TIMEBANK_TESTING_ENDPOINTS",
	"TIMEBANK_RATE_LIMIT_PER_MINUTE",
	"TIMEBANK_LOG_FORMAT",
	"TIMEBANK_BACKUP_BUCKET",
	"TIMEBANK_BACKUP_ACCESS_KEY",
	"TIMEBANK_BACKUP_SECRET_KEY",
	"TIMEBANK_BACKUP_PASSPHRASE",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timebank.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx, "")

			convey.Convey("Then the defaults apply", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DBPath, convey.ShouldEqual, "timebank.db")
				convey.So(cfg.MaxBalance, convey.ShouldEqual, 10)
				convey.So(cfg.SurveyWindow, convey.ShouldEqual, 24*time.Hour)
				convey.So(cfg.SweepInterval, convey.ShouldEqual, time.Hour)
				convey.So(cfg.TestingEndpoints, convey.ShouldBeFalse)
				convey.So(cfg.BackupsEnabled(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When a YAML file is named by TIMEBANK_CONFIG", func() {
			path := writeConfigFile(t, `
addr: ":9090"
max_balance: 12.5
survey_window: 48h
testing_endpoints: true
`)
			_ = os.Setenv("TIMEBANK_CONFIG", path)

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then file values override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.MaxBalance, convey.ShouldEqual, 12.5)
				convey.So(cfg.SurveyWindow, convey.ShouldEqual, 48*time.Hour)
				convey.So(cfg.TestingEndpoints, convey.ShouldBeTrue)
				convey.So(cfg.SweepInterval, convey.ShouldEqual, time.Hour)
			})
		})

		convey.Convey("When both a file and environment variables are set", func() {
			path := writeConfigFile(t, "addr: \":9090\"\nsweep_interval: 30m\n")
			_ = os.Setenv("TIMEBANK_ADDR", ":7070")
			_ = os.Setenv("TIMEBANK_RATE_LIMIT_PER_MINUTE", "30")

			cfg, err := config.Load(ctx, path)

			convey.Convey("Then the environment wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.SweepInterval, convey.ShouldEqual, 30*time.Minute)
				convey.So(cfg.RateLimitPerMinute, convey.ShouldEqual, 30)
			})
		})

		convey.Convey("When the file does not exist", func() {
			cfg, err := config.Load(ctx, "/non/existent/timebank.yaml")

			convey.Convey("Then loading fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the file is not valid YAML", func() {
			cfg, err := config.Load(ctx, writeConfigFile(t, "invalid: yaml: content: ["))

			convey.Convey("Then loading fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When max_balance is not positive", func() {
			_ = os.Setenv("TIMEBANK_MAX_BALANCE", "0")

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then validation fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "max_balance")
			})
		})

		convey.Convey("When log_format is unknown", func() {
			_ = os.Setenv("TIMEBANK_LOG_FORMAT", "xml")

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then validation fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "log_format")
			})
		})

		convey.Convey("When the file lists websocket origins", func() {
			cfg, err := config.Load(ctx, writeConfigFile(t, "log_format: json\nws_origins:\n  - app.timebank.example\n  - localhost:*\n"))

			convey.Convey("Then they are loaded as a list", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.WSOrigins, convey.ShouldResemble, []string{"app.timebank.example", "localhost:*"})
			})
		})

		convey.Convey("When backup storage is configured without a passphrase", func() {
			_ = os.Setenv("TIMEBANK_BACKUP_BUCKET", "timebank-backups")
			_ = os.Setenv("TIMEBANK_BACKUP_ACCESS_KEY", "key")
			_ = os.Setenv("TIMEBANK_BACKUP_SECRET_KEY", "secret")

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then validation fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "backup_passphrase")
			})

			convey.Convey("And a passphrase is set", func() {
				_ = os.Setenv("TIMEBANK_BACKUP_PASSPHRASE", "hunter2 hunter2")

				cfg, err := config.Load(ctx, "")

				convey.Convey("Then backups are enabled with default schedule", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(cfg.BackupsEnabled(), convey.ShouldBeTrue)
					convey.So(cfg.BackupInterval, convey.ShouldEqual, 24*time.Hour)
					convey.So(cfg.BackupRetentionDays, convey.ShouldEqual, 30)
				})
			})
		})

		convey.Convey("When addr is empty", func() {
			_ = os.Setenv("TIMEBANK_ADDR", "")

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then validation fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
			})
		})
	})
}
