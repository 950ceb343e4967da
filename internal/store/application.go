package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/timebank/internal/model"
)

type ApplicationStore struct {
	db DBTX
}

func NewApplicationStore(db DBTX) *ApplicationStore {
	return &ApplicationStore{db: db}
}

func scanApplication(scanner interface{ Scan(...any) error }) (*model.Application, error) {
	var a model.Application
	err := scanner.Scan(&a.ID, &a.ServiceID, &a.ApplicantID, &a.Status, &a.Message, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const applicationCols = `id, service_id, applicant_id, status, message, created_at, updated_at`

func (s *ApplicationStore) Create(ctx context.Context, serviceID, applicantID int64, message string) (*model.Application, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO service_applications (service_id, applicant_id, message) VALUES (?, ?, ?)`,
		serviceID, applicantID, message,
	)
	if err != nil {
		return nil, fmt.Errorf("insert application: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ApplicationStore) GetByID(ctx context.Context, id int64) (*model.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationCols+` FROM service_applications WHERE id = ?`, id)
	a, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return a, nil
}

// GetByServiceAndApplicant returns the applicant's application for a service, if any.
func (s *ApplicationStore) GetByServiceAndApplicant(ctx context.Context, serviceID, applicantID int64) (*model.Application, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+applicationCols+` FROM service_applications WHERE service_id = ? AND applicant_id = ?`,
		serviceID, applicantID,
	)
	a, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get application by applicant: %w", err)
	}
	return a, nil
}

func (s *ApplicationStore) ListByService(ctx context.Context, serviceID int64) ([]model.Application, error) {
	return s.list(ctx, `SELECT `+applicationCols+` FROM service_applications WHERE service_id = ? ORDER BY id`, serviceID)
}

func (s *ApplicationStore) ListByApplicant(ctx context.Context, applicantID int64) ([]model.Application, error) {
	return s.list(ctx, `SELECT `+applicationCols+` FROM service_applications WHERE applicant_id = ? ORDER BY id DESC`, applicantID)
}

func (s *ApplicationStore) list(ctx context.Context, query string, args ...any) ([]model.Application, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

// Transition moves an application from one status to another. It returns
// ErrNotUpdated when the application is no longer in the from status.
func (s *ApplicationStore) Transition(ctx context.Context, id int64, from, to model.ApplicationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_applications SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("transition application: %w", err)
	}
	return expectOne(res)
}

// RejectPending rejects every pending application for a service except keepID.
func (s *ApplicationStore) RejectPending(ctx context.Context, serviceID, keepID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_applications SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE service_id = ? AND id <> ? AND status = ?`,
		model.ApplicationRejected, serviceID, keepID, model.ApplicationPending,
	)
	if err != nil {
		return 0, fmt.Errorf("reject pending applications: %w", err)
	}
	return res.RowsAffected()
}
