package exchange

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
)

// GetProgress returns a progress record to one of its parties.
func (s *Service) GetProgress(ctx context.Context, progressID, actorID int64) (*model.Progress, error) {
	p, _, err := s.loadProgress(ctx, s.stores, progressID, actorID)
	return p, err
}

// GetProgressByApplication returns the progress record created for an
// accepted application.
func (s *Service) GetProgressByApplication(ctx context.Context, applicationID, actorID int64) (*model.Progress, error) {
	p, err := s.stores.Progress.GetByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound("progress")
	}
	if _, ok := p.RoleOf(actorID); !ok {
		return nil, newError(ErrUnauthorized, "you are not a party to this service")
	}
	return p, nil
}

// ConfirmStart records the actor's start confirmation. When the second party
// confirms, balances are re-validated against the current hours; on failure
// both confirmations are cleared and the balance error is returned with the
// record still scheduled.
func (s *Service) ConfirmStart(ctx context.Context, progressID, actorID int64) (*model.Progress, error) {
	var (
		out        *model.Progress
		balanceErr error
		started    bool
	)
	now := s.clock()

	err := s.inTx(ctx, func(tx *store.Stores) error {
		p, role, err := s.loadProgress(ctx, tx, progressID, actorID)
		if err != nil {
			return err
		}

		switch p.Status {
		case model.ProgressScheduled:
		case model.ProgressInProgress, model.ProgressAwaitingConfirmation, model.ProgressCompleted:
			if p.StartConfirmed.Of(role).Confirmed {
				out = p
				return nil
			}
			return invalidState("progress", p.Status, model.ProgressScheduled)
		default:
			return invalidState("progress", p.Status, model.ProgressScheduled)
		}

		if err := tx.Progress.ConfirmStart(ctx, p.ID, role, now); err != nil {
			return err
		}
		if p, err = tx.Progress.GetByID(ctx, p.ID); err != nil {
			return err
		}
		if !p.BothStartConfirmed() {
			out = p
			return nil
		}

		if err := s.validate(ctx, tx, p.ConsumerID, p.ProviderID, p.Hours); err != nil {
			var be *ledger.BalanceError
			if !errors.As(err, &be) {
				return err
			}
			// The reset commits; the balance error is returned after the tx.
			balanceErr = err
			return tx.Progress.ResetStartConfirmations(ctx, p.ID)
		}

		if err := tx.Progress.Start(ctx, p.ID, now); err != nil {
			return err
		}
		if _, err := tx.Messages.CancelPending(ctx, p.ID); err != nil {
			return err
		}
		started = true
		out, err = tx.Progress.GetByID(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if balanceErr != nil {
		s.logger.Warn("start rejected by balance check", "progress_id", progressID, "error", balanceErr)
		return nil, balanceErr
	}
	if started {
		s.rec.Transitioned(out.Status)
		s.logger.Info("service started", "progress_id", out.ID, "hours", out.Hours.String())
	}
	return out, nil
}

// MarkFinished moves an in-progress record to awaiting_confirmation and
// opens the survey window.
func (s *Service) MarkFinished(ctx context.Context, progressID, actorID int64) (*model.Progress, error) {
	now := s.clock()
	var out *model.Progress
	err := s.inTx(ctx, func(tx *store.Stores) error {
		p, _, err := s.loadProgress(ctx, tx, progressID, actorID)
		if err != nil {
			return err
		}
		if p.Status != model.ProgressInProgress {
			return invalidState("progress", p.Status, model.ProgressInProgress)
		}
		if err := tx.Progress.Finish(ctx, p.ID, now, now.Add(s.surveyWindow)); err != nil {
			return err
		}
		out, err = tx.Progress.GetByID(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.rec.Transitioned(out.Status)
	s.logger.Info("service finished", "progress_id", out.ID, "survey_deadline", out.SurveyDeadline)
	return out, nil
}

// SubmitSurvey stores the actor's survey. The second survey completes the
// record and settles it in the same transaction.
func (s *Service) SubmitSurvey(ctx context.Context, progressID, actorID int64, data json.RawMessage) (*model.Progress, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if !json.Valid(data) {
		return nil, newError(ErrValidation, "survey must be valid JSON")
	}

	now := s.clock()
	var (
		out   *model.Progress
		entry *model.LedgerEntry
	)
	err := s.inTx(ctx, func(tx *store.Stores) error {
		p, role, err := s.loadProgress(ctx, tx, progressID, actorID)
		if err != nil {
			return err
		}
		if p.Surveys.Of(role).Submitted {
			return ErrAlreadySubmitted
		}
		if p.Status != model.ProgressAwaitingConfirmation {
			return invalidState("progress", p.Status, model.ProgressAwaitingConfirmation)
		}

		if err := tx.Progress.SubmitSurvey(ctx, p.ID, role, data, now); err != nil {
			return translateNotUpdated(err, ErrAlreadySubmitted)
		}

		err = tx.Progress.CompleteSurveyed(ctx, p.ID, now)
		switch {
		case errors.Is(err, store.ErrNotUpdated):
			out, err = tx.Progress.GetByID(ctx, p.ID)
			return err
		case err != nil:
			return err
		}

		if p, err = tx.Progress.GetByID(ctx, p.ID); err != nil {
			return err
		}
		if entry, err = s.settle(ctx, tx, p, model.SettledBySurvey); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if entry != nil {
		s.recordSettlement(out, entry)
	}
	return out, nil
}

// loadProgress fetches a record and resolves the actor's role on it.
func (s *Service) loadProgress(ctx context.Context, st *store.Stores, progressID, actorID int64) (*model.Progress, model.Role, error) {
	p, err := st.Progress.GetByID(ctx, progressID)
	if err != nil {
		return nil, 0, err
	}
	if p == nil {
		return nil, 0, notFound("progress")
	}
	role, ok := p.RoleOf(actorID)
	if !ok {
		return nil, 0, newError(ErrUnauthorized, "you are not a party to this service")
	}
	return p, role, nil
}
