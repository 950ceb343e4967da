// Package exchange implements the time-bank engagement lifecycle: applying
// to services, negotiating a schedule, confirming start and finish, and
// settling hours between the two parties exactly once.
package exchange

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultSurveyWindow is how long parties have to submit their survey after
// work is marked finished.
const DefaultSurveyWindow = 24 * time.Hour

// Recorder receives domain events for metrics.
type Recorder interface {
	Settled(by model.SettlementTrigger, debited, credited decimal.Decimal)
	BalanceRejected(side ledger.Side)
	Transitioned(to model.ProgressStatus)
}

type nopRecorder struct{}

func (nopRecorder) Settled(model.SettlementTrigger, decimal.Decimal, decimal.Decimal) {}
func (nopRecorder) BalanceRejected(ledger.Side)                                      {}
func (nopRecorder) Transitioned(model.ProgressStatus)                                {}

type Config struct {
	MaxBalance   decimal.Decimal
	SurveyWindow time.Duration
	// SweepBatch is how many expired records are loaded per query during a
	// sweep. A sweep keeps paging until none are left.
	SweepBatch   int
	Now          func() time.Time
	Recorder     Recorder
}

type Service struct {
	db           *sql.DB
	stores       *store.Stores
	maxBalance   decimal.Decimal
	surveyWindow time.Duration
	sweepBatch   int
	now          func() time.Time
	rec          Recorder
	logger       *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Service {
	s := &Service{
		db:           db,
		stores:       store.New(db),
		maxBalance:   cfg.MaxBalance,
		surveyWindow: cfg.SurveyWindow,
		sweepBatch:   cfg.SweepBatch,
		now:          cfg.Now,
		rec:          cfg.Recorder,
		logger:       logger,
	}
	if s.maxBalance.IsZero() {
		s.maxBalance = ledger.DefaultMaxBalance
	}
	if s.surveyWindow <= 0 {
		s.surveyWindow = DefaultSurveyWindow
	}
	if s.sweepBatch <= 0 {
		s.sweepBatch = DefaultSweepBatch
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// MaxBalance returns the configured balance cap in hours.
func (s *Service) MaxBalance() decimal.Decimal {
	return s.maxBalance
}

// clock returns the current time in UTC at second precision, the resolution
// timestamps are stored and compared at.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Service) inTx(ctx context.Context, fn func(*store.Stores) error) error {
	return store.InTx(ctx, s.db, fn)
}

// validate runs the balance gate and records rejections.
func (s *Service) validate(ctx context.Context, tx *store.Stores, consumerID, providerID int64, hours decimal.Decimal) error {
	b, err := tx.Users.Balances(ctx, consumerID, providerID)
	if err != nil {
		return err
	}
	if err := ledger.Validate(b, hours, s.maxBalance); err != nil {
		if be, ok := err.(*ledger.BalanceError); ok {
			s.rec.BalanceRejected(be.Side)
		}
		return err
	}
	return nil
}
