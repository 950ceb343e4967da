package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/shopspring/decimal"
)

type ServiceStore struct {
	db DBTX
}

func NewServiceStore(db DBTX) *ServiceStore {
	return &ServiceStore{db: db}
}

func scanService(scanner interface{ Scan(...any) error }) (*model.Service, error) {
	var sv model.Service
	var minutes int64

	err := scanner.Scan(
		&sv.ID, &sv.OwnerID, &sv.Type, &sv.Title, &sv.Description, &minutes, &sv.Status,
		&sv.Date, &sv.StartTime, &sv.EndTime, &sv.Location,
		&sv.CreatedAt, &sv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sv.HoursRequired = ledger.FromMinutes(minutes)
	return &sv, nil
}

const serviceCols = `id, owner_id, service_type, title, description, hours_required_minutes, status,
	service_date, start_time, end_time, location, created_at, updated_at`

func (s *ServiceStore) Create(ctx context.Context, ownerID int64, typ model.ServiceType, title, description string, hours decimal.Decimal) (*model.Service, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO services (owner_id, service_type, title, description, hours_required_minutes)
		 VALUES (?, ?, ?, ?, ?)`,
		ownerID, typ, title, description, ledger.ToMinutes(hours),
	)
	if err != nil {
		return nil, fmt.Errorf("insert service: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ServiceStore) GetByID(ctx context.Context, id int64) (*model.Service, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceCols+` FROM services WHERE id = ?`, id)
	sv, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	return sv, nil
}

// ListOpen returns services accepting applications, newest first.
func (s *ServiceStore) ListOpen(ctx context.Context) ([]model.Service, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serviceCols+` FROM services WHERE status = ? ORDER BY created_at DESC, id DESC`,
		model.ServiceOpen,
	)
	if err != nil {
		return nil, fmt.Errorf("list open services: %w", err)
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		sv, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, *sv)
	}
	return services, rows.Err()
}

func (s *ServiceStore) SetStatus(ctx context.Context, id int64, status model.ServiceStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE services SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("set service status: %w", err)
	}
	return expectOne(res)
}

// SetSchedule copies an agreed schedule onto the service.
func (s *ServiceStore) SetSchedule(ctx context.Context, id int64, p model.Proposal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE services
		 SET service_date = ?, start_time = ?, end_time = ?, location = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		p.Date, p.StartTime, p.EndTime, p.Location, id,
	)
	if err != nil {
		return fmt.Errorf("set service schedule: %w", err)
	}
	return expectOne(res)
}
