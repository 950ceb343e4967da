package exchange

import (
	"context"
	"fmt"

	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
)

// settle closes the service and moves the hours. It must run in the same
// transaction that moved p to completed; that guarded update is what makes
// the transfer happen once.
func (s *Service) settle(ctx context.Context, tx *store.Stores, p *model.Progress, by model.SettlementTrigger) (*model.LedgerEntry, error) {
	if err := tx.Services.SetStatus(ctx, p.ServiceID, model.ServiceCompleted); err != nil {
		return nil, fmt.Errorf("complete service: %w", err)
	}
	entry, err := tx.Ledger.Transfer(ctx, store.Transfer{
		ProgressID: p.ID,
		ConsumerID: p.ConsumerID,
		ProviderID: p.ProviderID,
		Hours:      p.Hours,
		Max:        s.maxBalance,
		SettledBy:  by,
	})
	if err != nil {
		return nil, fmt.Errorf("settle progress %d: %w", p.ID, err)
	}
	return entry, nil
}

func (s *Service) recordSettlement(p *model.Progress, e *model.LedgerEntry) {
	s.rec.Transitioned(p.Status)
	s.rec.Settled(e.SettledBy, e.Debited, e.Credited)

	attrs := []any{
		"progress_id", p.ID,
		"reference", e.Reference,
		"settled_by", e.SettledBy,
		"consumer_id", e.ConsumerID,
		"provider_id", e.ProviderID,
		"debited", e.Debited.String(),
		"credited", e.Credited.String(),
	}
	if e.Credited.LessThan(e.Debited) {
		s.logger.Warn("provider credit clamped at balance cap", attrs...)
		return
	}
	s.logger.Info("progress settled", attrs...)
}
