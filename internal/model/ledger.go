package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementTrigger string

const (
	SettledBySurvey SettlementTrigger = "survey"
	SettledBySweep  SettlementTrigger = "sweep"
)

// LedgerEntry records the single transfer performed when a progress record settles.
// Credited is less than Debited when the provider's balance cap clamped the credit.
type LedgerEntry struct {
	ID         int64             `json:"id"`
	Reference  string            `json:"reference"`
	ProgressID int64             `json:"progress_id"`
	ConsumerID int64             `json:"consumer_id"`
	ProviderID int64             `json:"provider_id"`
	Debited    decimal.Decimal   `json:"debited"`
	Credited   decimal.Decimal   `json:"credited"`
	SettledBy  SettlementTrigger `json:"settled_by"`
	CreatedAt  time.Time         `json:"created_at"`
}
