// Package ledger holds the time-credit rules shared by every settlement gate:
// balance validation against the provider cap and hour arithmetic.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultMaxBalance is the cap on any user's time balance, in hours.
var DefaultMaxBalance = decimal.NewFromInt(10)

var (
	ErrInsufficientConsumerBalance = errors.New("insufficient consumer balance")
	ErrProviderCapExceeded         = errors.New("provider balance cap exceeded")
)

type Side string

const (
	SideConsumer Side = "consumer"
	SideProvider Side = "provider"
)

// Balances is a snapshot of both parties' balances, in hours.
type Balances struct {
	Consumer decimal.Decimal
	Provider decimal.Decimal
}

// BalanceError reports which side failed validation and by how much.
// Amount is the shortfall for the consumer or the excess for the provider.
type BalanceError struct {
	Side    Side
	Balance decimal.Decimal
	Hours   decimal.Decimal
	Max     decimal.Decimal
	Amount  decimal.Decimal
}

func (e *BalanceError) Error() string {
	if e.Side == SideConsumer {
		return fmt.Sprintf("consumer has insufficient time balance: has %s hours, needs %s (short by %s)",
			e.Balance.StringFixed(2), e.Hours.StringFixed(2), e.Amount.StringFixed(2))
	}
	return fmt.Sprintf("provider would exceed the %s hour balance cap: has %s hours, would receive %s (excess %s)",
		e.Max.StringFixed(2), e.Balance.StringFixed(2), e.Hours.StringFixed(2), e.Amount.StringFixed(2))
}

func (e *BalanceError) Unwrap() error {
	if e.Side == SideConsumer {
		return ErrInsufficientConsumerBalance
	}
	return ErrProviderCapExceeded
}

// Validate checks that moving hours from consumer to provider keeps both
// balances within bounds. The consumer is checked first. It never mutates.
func Validate(b Balances, hours, max decimal.Decimal) error {
	if b.Consumer.LessThan(hours) {
		return &BalanceError{
			Side:    SideConsumer,
			Balance: b.Consumer,
			Hours:   hours,
			Max:     max,
			Amount:  hours.Sub(b.Consumer),
		}
	}
	if after := b.Provider.Add(hours); after.GreaterThan(max) {
		return &BalanceError{
			Side:    SideProvider,
			Balance: b.Provider,
			Hours:   hours,
			Max:     max,
			Amount:  after.Sub(max),
		}
	}
	return nil
}
