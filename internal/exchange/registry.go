package exchange

import (
	"context"
	"errors"
	"strings"

	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
	"github.com/shopspring/decimal"
)

// CreateService posts a new offer or need.
func (s *Service) CreateService(ctx context.Context, ownerID int64, typ model.ServiceType, title, description string, hours decimal.Decimal) (*model.Service, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, newError(ErrValidation, "title is required")
	}
	if typ != model.ServiceOffer && typ != model.ServiceNeed {
		return nil, newError(ErrValidation, "service_type must be offer or need")
	}
	if !hours.IsPositive() {
		return nil, newError(ErrValidation, "hours_required must be greater than 0")
	}
	if typ == model.ServiceOffer && (hours.LessThan(minOfferHours) || hours.GreaterThan(maxOfferHours)) {
		return nil, newError(ErrValidation, "offers must require between %s and %s hours", minOfferHours, maxOfferHours)
	}

	var sv *model.Service
	err := s.inTx(ctx, func(tx *store.Stores) error {
		owner, err := tx.Users.GetByID(ctx, ownerID)
		if err != nil {
			return err
		}
		if owner == nil {
			return notFound("user")
		}
		sv, err = tx.Services.Create(ctx, ownerID, typ, title, strings.TrimSpace(description), hours)
		return err
	})
	return sv, err
}

func (s *Service) GetService(ctx context.Context, serviceID int64) (*model.Service, error) {
	sv, err := s.stores.Services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, notFound("service")
	}
	return sv, nil
}

func (s *Service) ListOpenServices(ctx context.Context) ([]model.Service, error) {
	return s.stores.Services.ListOpen(ctx)
}

// Apply submits an application from applicantID to a service and opens the
// conversation with the applicant's message.
func (s *Service) Apply(ctx context.Context, serviceID, applicantID int64, message string) (*model.Application, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrMessageRequired
	}

	var app *model.Application
	err := s.inTx(ctx, func(tx *store.Stores) error {
		sv, err := tx.Services.GetByID(ctx, serviceID)
		if err != nil {
			return err
		}
		if sv == nil {
			return notFound("service")
		}
		if sv.OwnerID == applicantID {
			return ErrSelfApplication
		}
		if sv.Status != model.ServiceOpen {
			return ErrServiceNotOpen
		}

		applicant, err := tx.Users.GetByID(ctx, applicantID)
		if err != nil {
			return err
		}
		if applicant == nil {
			return notFound("user")
		}

		existing, err := tx.Applications.GetByServiceAndApplicant(ctx, serviceID, applicantID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Status == model.ApplicationRejected {
				return ErrApplicationRejected
			}
			return ErrDuplicateApplication
		}

		app, err = tx.Applications.Create(ctx, serviceID, applicantID, message)
		if err != nil {
			return err
		}
		_, err = tx.Messages.Create(ctx, store.NewMessage{
			ApplicationID: app.ID,
			SenderID:      applicantID,
			ReceiverID:    sv.OwnerID,
			Body:          message,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application submitted", "application_id", app.ID, "service_id", serviceID, "applicant_id", applicantID)
	return app, nil
}

// Accept accepts a pending application, rejects its pending siblings and
// creates the progress record. Balances are not checked here; they are
// validated when a schedule is accepted and again when work starts.
func (s *Service) Accept(ctx context.Context, applicationID, actorID int64) (*model.Progress, error) {
	var p *model.Progress
	err := s.inTx(ctx, func(tx *store.Stores) error {
		app, sv, err := s.loadApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if sv.OwnerID != actorID {
			return newError(ErrUnauthorized, "only the service owner can accept applications")
		}
		if app.Status != model.ApplicationPending {
			return invalidState("application", app.Status, model.ApplicationPending)
		}
		if sv.Status != model.ServiceOpen {
			return ErrServiceNotOpen
		}

		if err := tx.Applications.Transition(ctx, app.ID, model.ApplicationPending, model.ApplicationAccepted); err != nil {
			return err
		}
		if _, err := tx.Applications.RejectPending(ctx, sv.ID, app.ID); err != nil {
			return err
		}
		if err := tx.Services.SetStatus(ctx, sv.ID, model.ServiceInProgress); err != nil {
			return err
		}

		providerID, consumerID := sv.Parties(app.ApplicantID)
		p, err = tx.Progress.Create(ctx, store.NewProgress{
			ApplicationID: app.ID,
			ServiceID:     sv.ID,
			ProviderID:    providerID,
			ConsumerID:    consumerID,
			Hours:         sv.HoursRequired,
			SelectedAt:    s.clock(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.rec.Transitioned(p.Status)
	s.logger.Info("application accepted", "application_id", applicationID, "progress_id", p.ID,
		"provider_id", p.ProviderID, "consumer_id", p.ConsumerID)
	return p, nil
}

// Reject lets the service owner decline a pending application.
func (s *Service) Reject(ctx context.Context, applicationID, actorID int64) (*model.Application, error) {
	return s.closeApplication(ctx, applicationID, actorID, model.ApplicationRejected)
}

// Withdraw lets the applicant retract a pending application.
func (s *Service) Withdraw(ctx context.Context, applicationID, actorID int64) (*model.Application, error) {
	return s.closeApplication(ctx, applicationID, actorID, model.ApplicationWithdrawn)
}

func (s *Service) closeApplication(ctx context.Context, applicationID, actorID int64, to model.ApplicationStatus) (*model.Application, error) {
	var app *model.Application
	err := s.inTx(ctx, func(tx *store.Stores) error {
		a, sv, err := s.loadApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		switch to {
		case model.ApplicationWithdrawn:
			if a.ApplicantID != actorID {
				return newError(ErrUnauthorized, "only the applicant can withdraw an application")
			}
		default:
			if sv.OwnerID != actorID {
				return newError(ErrUnauthorized, "only the service owner can reject applications")
			}
		}
		if a.Status != model.ApplicationPending {
			return invalidState("application", a.Status, model.ApplicationPending)
		}
		if err := tx.Applications.Transition(ctx, a.ID, model.ApplicationPending, to); err != nil {
			return err
		}
		app, err = tx.Applications.GetByID(ctx, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("application closed", "application_id", applicationID, "status", to)
	return app, nil
}

// ListApplicationsForService returns a service's applications to its owner.
func (s *Service) ListApplicationsForService(ctx context.Context, serviceID, actorID int64) ([]model.Application, error) {
	sv, err := s.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if sv.OwnerID != actorID {
		return nil, newError(ErrUnauthorized, "only the service owner can view its applications")
	}
	return s.stores.Applications.ListByService(ctx, serviceID)
}

// ListApplicationsForUser returns the applications a user has submitted.
func (s *Service) ListApplicationsForUser(ctx context.Context, userID int64) ([]model.Application, error) {
	return s.stores.Applications.ListByApplicant(ctx, userID)
}

func (s *Service) loadApplication(ctx context.Context, tx *store.Stores, applicationID int64) (*model.Application, *model.Service, error) {
	app, err := tx.Applications.GetByID(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	if app == nil {
		return nil, nil, notFound("application")
	}
	sv, err := tx.Services.GetByID(ctx, app.ServiceID)
	if err != nil {
		return nil, nil, err
	}
	if sv == nil {
		return nil, nil, notFound("service")
	}
	return app, sv, nil
}

// isParty reports whether userID is the applicant or the owner on an application.
func isParty(app *model.Application, sv *model.Service, userID int64) bool {
	return app.ApplicantID == userID || sv.OwnerID == userID
}

// translateNotUpdated maps a lost guarded update to the caller's error.
func translateNotUpdated(err, to error) error {
	if errors.Is(err, store.ErrNotUpdated) {
		return to
	}
	return err
}
