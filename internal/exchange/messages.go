package exchange

import (
	"context"
	"strings"

	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
)

// SendMessage posts a text message on an application's conversation. The
// receiver is the other party on the application.
func (s *Service) SendMessage(ctx context.Context, applicationID, actorID int64, body string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrMessageRequired
	}

	var msg *model.Message
	err := s.inTx(ctx, func(tx *store.Stores) error {
		app, sv, err := s.loadApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if !isParty(app, sv, actorID) {
			return newError(ErrUnauthorized, "you are not a party to this application")
		}

		receiverID := sv.OwnerID
		if actorID == sv.OwnerID {
			receiverID = app.ApplicantID
		}
		nm := store.NewMessage{
			ApplicationID: app.ID,
			SenderID:      actorID,
			ReceiverID:    receiverID,
			Body:          body,
		}
		p, err := tx.Progress.GetByApplication(ctx, app.ID)
		if err != nil {
			return err
		}
		if p != nil {
			nm.ProgressID = &p.ID
		}
		msg, err = tx.Messages.Create(ctx, nm)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns an application's conversation, oldest first.
func (s *Service) ListMessages(ctx context.Context, applicationID, actorID int64) ([]model.Message, error) {
	app, sv, err := s.loadApplication(ctx, s.stores, applicationID)
	if err != nil {
		return nil, err
	}
	if !isParty(app, sv, actorID) {
		return nil, newError(ErrUnauthorized, "you are not a party to this application")
	}
	return s.stores.Messages.ListByApplication(ctx, applicationID)
}
