package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
)

// DefaultSweepBatch is how many expired records a sweep loads per query.
const DefaultSweepBatch = 500

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Examined int                 `json:"examined"`
	Settled  []int64             `json:"settled"`
	Entries  []model.LedgerEntry `json:"entries"`
	Skipped  int                 `json:"skipped"`
	Failed   int                 `json:"failed"`
	Duration time.Duration       `json:"duration_ns"`
}

// SweepExpired completes every record still awaiting confirmation after its
// survey deadline and settles it. Each record is completed and settled in
// its own transaction with the deadline re-checked in the guarded update, so
// overlapping sweeps and racing survey submissions settle a record once.
// Records that fail are left for the next run.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := s.clock()
	res := SweepResult{Settled: []int64{}, Entries: []model.LedgerEntry{}}

	var afterID int64
	for {
		ids, err := s.stores.Progress.ListExpired(ctx, now, afterID, s.sweepBatch)
		if err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		res.Examined += len(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				res.Duration = time.Since(start)
				return res, err
			}
			s.sweepOne(ctx, id, now, &res)
		}

		if len(ids) < s.sweepBatch {
			break
		}
		afterID = ids[len(ids)-1]
	}

	res.Duration = time.Since(start)
	s.logger.Info("sweep finished",
		"examined", res.Examined,
		"settled", len(res.Settled),
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res, nil
}

// sweepOne completes and settles one expired record in its own transaction.
// Failed records are counted and left for the next run.
func (s *Service) sweepOne(ctx context.Context, id int64, now time.Time, res *SweepResult) {
	var (
		p     *model.Progress
		entry *model.LedgerEntry
	)
	err := s.inTx(ctx, func(tx *store.Stores) error {
		if err := tx.Progress.CompleteExpired(ctx, id, now); err != nil {
			return err
		}
		var err error
		if p, err = tx.Progress.GetByID(ctx, id); err != nil {
			return err
		}
		entry, err = s.settle(ctx, tx, p, model.SettledBySweep)
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotUpdated):
		res.Skipped++
	case err != nil:
		res.Failed++
		s.logger.Error("sweep settlement failed", "progress_id", id, "error", err)
	default:
		res.Settled = append(res.Settled, id)
		res.Entries = append(res.Entries, *entry)
		s.recordSettlement(p, entry)
	}
}
