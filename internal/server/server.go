// Package server wires the exchange service, its HTTP API, the change feed,
// the sweep scheduler and backups together.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/timebank/internal/backup"
	"github.com/dukerupert/timebank/internal/config"
	"github.com/dukerupert/timebank/internal/exchange"
	"github.com/dukerupert/timebank/internal/handler"
	"github.com/dukerupert/timebank/internal/metrics"
	"github.com/dukerupert/timebank/internal/middleware"
	"github.com/dukerupert/timebank/internal/sweeper"
	ws "github.com/dukerupert/timebank/internal/websocket"
)

type Server struct {
	db           *sql.DB
	cfg          *config.Config
	secret       []byte
	svc          *exchange.Service
	hub          *ws.Hub
	metrics      *metrics.Manager
	sweeper      *sweeper.Scheduler
	backups      *backup.Manager
	serviceH     *handler.ServiceHandler
	applicationH *handler.ApplicationHandler
	progressH    *handler.ProgressHandler
	proposalH    *handler.ProposalHandler
	userH        *handler.UserHandler
	adminH       *handler.AdminHandler
	testingH     *handler.TestingHandler
	backupH      *handler.BackupHandler
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, m *metrics.Manager, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	svc := exchange.New(db, exchange.Config{
		MaxBalance:   decimal.NewFromFloat(cfg.MaxBalance),
		SurveyWindow: cfg.SurveyWindow,
		Recorder:     m,
	}, logger.With("component", "exchange"))

	sched := sweeper.New(svc, cfg.SweepInterval, logger.With("component", "sweeper"),
		func(res exchange.SweepResult) {
			m.SweepCompleted(len(res.Settled), res.Skipped, res.Failed, res.Duration)
		},
		notifySettled(hub),
	)

	backups := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.BackupEndpoint,
			Bucket:    cfg.BackupBucket,
			Region:    cfg.BackupRegion,
			AccessKey: cfg.BackupAccessKey,
			SecretKey: cfg.BackupSecretKey,
		},
		Prefix:     cfg.BackupPrefix,
		Passphrase: cfg.BackupPassphrase,
		Interval:   cfg.BackupInterval,
		Retention:  time.Duration(cfg.BackupRetentionDays) * 24 * time.Hour,
	}, db, logger.With("component", "backup"), m.BackupCompleted)

	return &Server{
		db:           db,
		cfg:          cfg,
		secret:       []byte(cfg.JWTSecret),
		svc:          svc,
		hub:          hub,
		metrics:      m,
		sweeper:      sched,
		backups:      backups,
		serviceH:     handler.NewServiceHandler(svc, hub, logger.With("component", "service")),
		applicationH: handler.NewApplicationHandler(svc, hub, logger.With("component", "application")),
		progressH:    handler.NewProgressHandler(svc, hub, logger.With("component", "progress")),
		proposalH:    handler.NewProposalHandler(svc, hub, logger.With("component", "proposal")),
		userH:        handler.NewUserHandler(svc, logger.With("component", "user")),
		adminH:       handler.NewAdminHandler(svc, sched, logger.With("component", "admin")),
		testingH:     handler.NewTestingHandler(svc, logger.With("component", "testing")),
		backupH:      handler.NewBackupHandler(backups, logger.With("component", "backup")),
		rateLimiter:  middleware.NewRateLimiter(),
		logger:       logger,
	}
}

// Exchange returns the exchange service.
func (s *Server) Exchange() *exchange.Service {
	return s.svc
}

// Sweeper returns the sweep scheduler. The caller starts and stops it.
func (s *Server) Sweeper() *sweeper.Scheduler {
	return s.sweeper
}

// Backups returns the snapshot manager. The caller starts and stops it.
func (s *Server) Backups() *backup.Manager {
	return s.backups
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Services and applications
	s.handle(mux, "POST /api/services", s.serviceH.Create)
	s.handle(mux, "GET /api/services", s.serviceH.List)
	s.handle(mux, "GET /api/services/{id}", s.serviceH.Get)
	s.handle(mux, "POST /api/services/{id}/apply", s.serviceH.Apply)
	s.handle(mux, "GET /api/services/{id}/applications", s.serviceH.Applications)
	s.handle(mux, "GET /api/applications", s.applicationH.ListMine)
	s.handle(mux, "POST /api/applications/{id}/accept", s.applicationH.Accept)
	s.handle(mux, "POST /api/applications/{id}/reject", s.applicationH.Reject)
	s.handle(mux, "POST /api/applications/{id}/withdraw", s.applicationH.Withdraw)
	s.handle(mux, "GET /api/applications/{id}/progress", s.applicationH.Progress)
	s.handle(mux, "GET /api/applications/{id}/messages", s.applicationH.Messages)
	s.handle(mux, "POST /api/applications/{id}/messages", s.applicationH.SendMessage)

	// Progress and scheduling
	s.handle(mux, "GET /api/progress/{id}", s.progressH.Get)
	s.handle(mux, "POST /api/progress/{id}/propose-schedule", s.progressH.ProposeSchedule)
	s.handle(mux, "POST /api/progress/{id}/confirm-start", s.progressH.ConfirmStart)
	s.handle(mux, "POST /api/progress/{id}/mark-finished", s.progressH.MarkFinished)
	s.handle(mux, "POST /api/progress/{id}/submit-survey", s.progressH.SubmitSurvey)
	s.handle(mux, "POST /api/proposals/{id}/respond", s.proposalH.Respond)
	s.handle(mux, "POST /api/proposals/{id}/cancel", s.proposalH.Cancel)

	// Accounts
	s.handle(mux, "GET /api/users/{id}/balance", s.userH.Balance)
	s.handle(mux, "GET /api/users/{id}/ledger", s.userH.Ledger)

	// Admin
	s.handleAdmin(mux, "POST /api/admin/sweep", s.adminH.Sweep)
	s.handleAdmin(mux, "POST /api/admin/users", s.adminH.CreateUser)
	s.handleAdmin(mux, "POST /api/admin/backups", s.backupH.Run)
	s.handleAdmin(mux, "GET /api/admin/backups", s.backupH.List)

	if s.cfg.TestingEndpoints {
		s.logger.Warn("testing endpoints enabled")
		s.handle(mux, "PUT /api/testing/balance", s.testingH.SetBalance)
	}

	// WebSocket
	mux.Handle("GET /ws", middleware.RequireAuth(s.secret)(
		ws.HandleWebSocket(s.hub, s.cfg.WSOrigins, s.logger.With("component", "websocket"))))

	var h http.Handler = mux
	h = middleware.Metrics(s.metrics)(h)
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.protect(h))
}

func (s *Server) handleAdmin(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.protect(middleware.RequireAdmin(h)))
}

// protect authenticates the request and then rate-limits it per user.
func (s *Server) protect(h http.Handler) http.Handler {
	limit := middleware.RateLimit(s.rateLimiter, middleware.UserOrIP, s.cfg.RateLimitPerMinute, time.Minute)
	return middleware.RequireAuth(s.secret)(limit(h))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"ws_connections": s.hub.ClientCount(),
	})
}

// notifySettled tells both parties of every record a sweep settled.
func notifySettled(hub *ws.Hub) func(exchange.SweepResult) {
	return func(res exchange.SweepResult) {
		for _, e := range res.Entries {
			hub.Notify(ws.NewMessage("progress", "completed", e.ProgressID, map[string]any{
				"settled_by": e.SettledBy,
				"debited":    e.Debited,
				"credited":   e.Credited,
			}), e.ProviderID, e.ConsumerID)
		}
	}
}
