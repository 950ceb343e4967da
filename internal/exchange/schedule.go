package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
	"github.com/shopspring/decimal"
)

var (
	minOfferHours = decimal.NewFromInt(1)
	maxOfferHours = decimal.NewFromInt(3)
	needTolerance = decimal.RequireFromString("0.01")
)

// ScheduleRequest is a proposed slot for the work.
type ScheduleRequest struct {
	Date      string `json:"proposed_date"`
	StartTime string `json:"proposed_start_time"`
	EndTime   string `json:"proposed_end_time"`
	Location  string `json:"proposed_location"`
}

// ProposalResponse is the outcome of answering a schedule proposal.
type ProposalResponse struct {
	Proposal *model.Message  `json:"proposal"`
	Progress *model.Progress `json:"progress"`
}

// ProposeSchedule sends a pending schedule proposal to the other party. Only
// one proposal may be pending per progress record.
func (s *Service) ProposeSchedule(ctx context.Context, progressID, actorID int64, req ScheduleRequest) (*model.Message, error) {
	req.Location = strings.TrimSpace(req.Location)

	var msg *model.Message
	err := s.inTx(ctx, func(tx *store.Stores) error {
		p, role, err := s.loadProgress(ctx, tx, progressID, actorID)
		if err != nil {
			return err
		}
		if p.Status != model.ProgressSelected && p.Status != model.ProgressScheduled {
			return invalidState("progress", p.Status, model.ProgressSelected, model.ProgressScheduled)
		}

		sv, err := tx.Services.GetByID(ctx, p.ServiceID)
		if err != nil {
			return err
		}
		if sv == nil {
			return notFound("service")
		}
		if _, err := checkDuration(sv, req); err != nil {
			return err
		}

		pending, err := tx.Messages.PendingProposal(ctx, p.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return ErrProposalPending
		}

		msg, err = tx.Messages.Create(ctx, store.NewMessage{
			ApplicationID: p.ApplicationID,
			ProgressID:    &p.ID,
			SenderID:      actorID,
			ReceiverID:    p.PartyID(role.Other()),
			Body:          proposalSummary(req),
			Proposal: &model.Proposal{
				Date:      req.Date,
				StartTime: req.StartTime,
				EndTime:   req.EndTime,
				Location:  req.Location,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("schedule proposed", "progress_id", progressID, "message_id", msg.ID, "sender_id", actorID)
	return msg, nil
}

// RespondSchedule accepts or rejects a pending proposal. Accepting
// re-validates balances with the proposal's duration as the hours and applies
// the slot. Rejecting cancels the engagement and reopens the service.
func (s *Service) RespondSchedule(ctx context.Context, proposalID, actorID int64, accept bool) (*ProposalResponse, error) {
	now := s.clock()
	var resp ProposalResponse
	err := s.inTx(ctx, func(tx *store.Stores) error {
		msg, err := loadProposal(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if msg.ReceiverID != actorID {
			return newError(ErrUnauthorized, "only the recipient can respond to this proposal")
		}
		if msg.Proposal.Status != model.ProposalPending {
			return ErrAlreadyResponded
		}
		if msg.ProgressID == nil {
			return notFound("progress")
		}

		p, err := tx.Progress.GetByID(ctx, *msg.ProgressID)
		if err != nil {
			return err
		}
		if p == nil {
			return notFound("progress")
		}
		if p.Status != model.ProgressSelected && p.Status != model.ProgressScheduled {
			return invalidState("progress", p.Status, model.ProgressSelected, model.ProgressScheduled)
		}

		if accept {
			err = s.acceptProposal(ctx, tx, p, msg, now)
		} else {
			err = s.rejectProposal(ctx, tx, p, msg)
		}
		if err != nil {
			return err
		}

		if resp.Proposal, err = tx.Messages.GetByID(ctx, msg.ID); err != nil {
			return err
		}
		resp.Progress, err = tx.Progress.GetByID(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.rec.Transitioned(resp.Progress.Status)
	s.logger.Info("schedule proposal answered",
		"message_id", proposalID, "progress_id", resp.Progress.ID, "accepted", accept, "status", resp.Progress.Status)
	return &resp, nil
}

func (s *Service) acceptProposal(ctx context.Context, tx *store.Stores, p *model.Progress, msg *model.Message, now time.Time) error {
	d, err := ledger.Duration(msg.Proposal.StartTime, msg.Proposal.EndTime)
	if err != nil {
		return newError(ErrValidation, "%s", err)
	}
	if !d.IsPositive() {
		return ErrInvalidTimeRange
	}
	if err := s.validate(ctx, tx, p.ConsumerID, p.ProviderID, d); err != nil {
		return err
	}

	if err := tx.Services.SetSchedule(ctx, p.ServiceID, *msg.Proposal); err != nil {
		return err
	}
	if err := tx.Progress.Schedule(ctx, p.ID, *msg.Proposal, d, now); err != nil {
		return err
	}
	return translateNotUpdated(
		tx.Messages.TransitionProposal(ctx, msg.ID, model.ProposalPending, model.ProposalAccepted),
		ErrAlreadyResponded,
	)
}

func (s *Service) rejectProposal(ctx context.Context, tx *store.Stores, p *model.Progress, msg *model.Message) error {
	if err := translateNotUpdated(
		tx.Messages.TransitionProposal(ctx, msg.ID, model.ProposalPending, model.ProposalRejected),
		ErrAlreadyResponded,
	); err != nil {
		return err
	}
	if err := tx.Progress.Cancel(ctx, p.ID); err != nil {
		return err
	}
	if err := tx.Services.SetStatus(ctx, p.ServiceID, model.ServiceOpen); err != nil {
		return err
	}
	return tx.Applications.Transition(ctx, p.ApplicationID, model.ApplicationAccepted, model.ApplicationRejected)
}

// CancelProposal withdraws a pending proposal. Only its sender may cancel it.
func (s *Service) CancelProposal(ctx context.Context, proposalID, actorID int64) (*model.Message, error) {
	var out *model.Message
	err := s.inTx(ctx, func(tx *store.Stores) error {
		msg, err := loadProposal(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if msg.SenderID != actorID {
			return newError(ErrUnauthorized, "only the sender can cancel this proposal")
		}
		if msg.Proposal.Status != model.ProposalPending {
			return invalidState("proposal", msg.Proposal.Status, model.ProposalPending)
		}
		if err := tx.Messages.TransitionProposal(ctx, msg.ID, model.ProposalPending, model.ProposalCancelled); err != nil {
			return err
		}
		out, err = tx.Messages.GetByID(ctx, msg.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("schedule proposal cancelled", "message_id", proposalID)
	return out, nil
}

// checkDuration validates a requested slot against the service's duration
// policy: offers take between one and three hours, needs take exactly the
// hours they asked for.
func checkDuration(sv *model.Service, req ScheduleRequest) (decimal.Decimal, error) {
	if _, err := ledger.ParseDate(req.Date); err != nil {
		return decimal.Zero, newError(ErrValidation, "%s", err)
	}
	d, err := ledger.Duration(req.StartTime, req.EndTime)
	if err != nil {
		return decimal.Zero, newError(ErrValidation, "%s", err)
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidTimeRange
	}

	switch sv.Type {
	case model.ServiceNeed:
		if d.Sub(sv.HoursRequired).Abs().GreaterThan(needTolerance) {
			return decimal.Zero, newError(ErrValidation,
				"this need requires exactly %s hours; the proposed slot is %s hours",
				sv.HoursRequired.StringFixed(2), d.StringFixed(2))
		}
	default:
		if d.LessThan(minOfferHours) || d.GreaterThan(maxOfferHours) {
			return decimal.Zero, newError(ErrValidation,
				"offer sessions must last between %s and %s hours; the proposed slot is %s hours",
				minOfferHours, maxOfferHours, d.StringFixed(2))
		}
	}
	return d, nil
}

func proposalSummary(req ScheduleRequest) string {
	body := fmt.Sprintf("New schedule proposed: %s from %s to %s", req.Date, req.StartTime, req.EndTime)
	if req.Location != "" {
		body += " at " + req.Location
	}
	return body
}

func loadProposal(ctx context.Context, tx *store.Stores, id int64) (*model.Message, error) {
	msg, err := tx.Messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.Proposal == nil {
		return nil, notFound("proposal")
	}
	return msg, nil
}
