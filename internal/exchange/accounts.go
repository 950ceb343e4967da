package exchange

import (
	"context"
	"strings"

	"github.com/dukerupert/timebank/internal/model"
	"github.com/shopspring/decimal"
)

// DefaultStartingBalance is the balance a new member starts with, in hours.
var DefaultStartingBalance = decimal.NewFromInt(1)

// Balance is a user's current time balance.
type Balance struct {
	UserID      int64           `json:"user_id"`
	TimeBalance decimal.Decimal `json:"time_balance"`
	MaxBalance  decimal.Decimal `json:"max_balance"`
}

// CreateUser registers a member with the starting balance.
func (s *Service) CreateUser(ctx context.Context, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(ErrValidation, "name is required")
	}
	u, err := s.stores.Users.Create(ctx, name, DefaultStartingBalance)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", u.ID)
	return u, nil
}

func (s *Service) Balance(ctx context.Context, userID int64) (*Balance, error) {
	u, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, notFound("user")
	}
	return &Balance{UserID: u.ID, TimeBalance: u.TimeBalance, MaxBalance: s.maxBalance}, nil
}

// LedgerHistory returns the settlements a user took part in, newest first.
func (s *Service) LedgerHistory(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	if _, err := s.Balance(ctx, userID); err != nil {
		return nil, err
	}
	return s.stores.Ledger.ListByUser(ctx, userID)
}

// SetBalanceForTesting overwrites a user's balance. It backs the testing
// endpoint and is not reachable unless that endpoint is enabled.
func (s *Service) SetBalanceForTesting(ctx context.Context, userID int64, hours decimal.Decimal) (*Balance, error) {
	if hours.IsNegative() || hours.GreaterThan(s.maxBalance) {
		return nil, newError(ErrValidation, "balance must be between 0 and %s hours", s.maxBalance)
	}
	u, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, notFound("user")
	}
	if err := s.stores.Users.SetBalance(ctx, userID, hours); err != nil {
		return nil, err
	}
	s.logger.Warn("balance overwritten by testing hook", "user_id", userID, "time_balance", hours.String())
	return s.Balance(ctx, userID)
}
