package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/timebank/internal/auth"
	"github.com/dukerupert/timebank/internal/config"
	"github.com/dukerupert/timebank/internal/database"
	"github.com/dukerupert/timebank/internal/logging"
	"github.com/dukerupert/timebank/internal/metrics"
	"github.com/dukerupert/timebank/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		sweepOnce  bool
		tokenFor   int64
		tokenAdmin bool
		tokenTTL   time.Duration
		backupNow  bool
		restoreID  int64
		restoreTo  string
	)
	flagSet := pflag.NewFlagSet("timebank", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML config file (default: $TIMEBANK_CONFIG)")
	flagSet.BoolVar(&sweepOnce, "sweep-once", false, "settle expired surveys once and exit")
	flagSet.Int64Var(&tokenFor, "token-for", 0, "print a bearer token for this user id and exit")
	flagSet.BoolVar(&tokenAdmin, "admin", false, "with --token-for, grant the admin role")
	flagSet.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "with --token-for, token lifetime")
	flagSet.BoolVar(&backupNow, "backup-now", false, "take one encrypted snapshot and exit")
	flagSet.Int64Var(&restoreID, "restore-backup", 0, "download and decrypt this backup id and exit")
	flagSet.StringVar(&restoreTo, "restore-to", "timebank-restored.db", "with --restore-backup, where to write the database")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	oneShot := sweepOnce || backupNow || restoreID != 0
	if !oneShot && cfg.JWTSecret == "" {
		return fmt.Errorf("%w: jwt_secret must be set", config.ErrInvalidConfig)
	}

	if tokenFor != 0 {
		role := ""
		if tokenAdmin {
			role = auth.RoleAdmin
		}
		tok, err := auth.SignToken([]byte(cfg.JWTSecret), tokenFor, role, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Println(tok)
		return nil
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv := server.New(db, cfg, metrics.NewManager(), logger)

	if sweepOnce {
		res, err := srv.Sweeper().RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		if res.Failed > 0 {
			return fmt.Errorf("sweep: %d of %d records failed to settle", res.Failed, res.Examined)
		}
		return nil
	}

	if backupNow {
		b, err := srv.Backups().RunNow(ctx)
		if err != nil {
			return err
		}
		logger.Info("backup complete", "backup_id", b.ID, "key", b.ObjectKey, "size_bytes", b.SizeBytes)
		return nil
	}

	if restoreID != 0 {
		if err := srv.Backups().Fetch(ctx, restoreID, restoreTo); err != nil {
			return fmt.Errorf("restore backup %d: %w", restoreID, err)
		}
		fmt.Printf("backup %d written to %s; stop the server and replace %s to use it\n", restoreID, restoreTo, cfg.DBPath)
		return nil
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("timebank listening", "addr", cfg.Addr, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		srv.Sweeper().Start(gctx)
		<-gctx.Done()
		srv.Sweeper().Stop()
		return nil
	})

	g.Go(func() error {
		srv.Backups().Start(gctx)
		<-gctx.Done()
		srv.Backups().Stop()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
