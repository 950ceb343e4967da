package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/shopspring/decimal"
)

// ProgressStore persists service progress records. Every state-changing
// method is a guarded UPDATE that names the status it expects, and returns
// ErrNotUpdated when the record was not in that status.
type ProgressStore struct {
	db DBTX
}

func NewProgressStore(db DBTX) *ProgressStore {
	return &ProgressStore{db: db}
}

func scanProgress(scanner interface{ Scan(...any) error }) (*model.Progress, error) {
	var p model.Progress
	var minutes int64
	var startConfirmed [2]bool
	var startConfirmedAt [2]sql.NullTime
	var surveySubmitted [2]bool
	var surveyAt [2]sql.NullTime
	var surveyData [2]sql.NullString
	var deadline, scheduledAt, startedAt, finishedAt, completedAt sql.NullTime

	err := scanner.Scan(
		&p.ID, &p.ApplicationID, &p.ServiceID, &p.ProviderID, &p.ConsumerID, &p.Status, &minutes,
		&startConfirmed[model.RoleProvider], &startConfirmedAt[model.RoleProvider],
		&startConfirmed[model.RoleConsumer], &startConfirmedAt[model.RoleConsumer],
		&surveySubmitted[model.RoleProvider], &surveyAt[model.RoleProvider], &surveyData[model.RoleProvider],
		&surveySubmitted[model.RoleConsumer], &surveyAt[model.RoleConsumer], &surveyData[model.RoleConsumer],
		&p.ScheduledDate, &p.ScheduledTime, &p.AgreedLocation, &deadline,
		&p.SelectedAt, &scheduledAt, &startedAt, &finishedAt, &completedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Hours = ledger.FromMinutes(minutes)
	for _, r := range []model.Role{model.RoleProvider, model.RoleConsumer} {
		p.StartConfirmed.Set(r, model.Confirmation{
			Confirmed: startConfirmed[r],
			At:        timePtr(startConfirmedAt[r]),
		})
		sv := model.Survey{Submitted: surveySubmitted[r], At: timePtr(surveyAt[r])}
		if surveyData[r].Valid {
			sv.Data = json.RawMessage(surveyData[r].String)
		}
		p.Surveys.Set(r, sv)
	}
	p.SurveyDeadline = timePtr(deadline)
	p.ScheduledAt = timePtr(scheduledAt)
	p.StartedAt = timePtr(startedAt)
	p.FinishedAt = timePtr(finishedAt)
	p.CompletedAt = timePtr(completedAt)
	return &p, nil
}

const progressCols = `id, application_id, service_id, provider_id, consumer_id, status, hours_minutes,
	provider_start_confirmed, provider_start_confirmed_at,
	consumer_start_confirmed, consumer_start_confirmed_at,
	provider_survey_submitted, provider_survey_submitted_at, provider_survey_data,
	consumer_survey_submitted, consumer_survey_submitted_at, consumer_survey_data,
	scheduled_date, scheduled_time, agreed_location, survey_deadline,
	selected_at, scheduled_at, started_at, finished_at, completed_at,
	created_at, updated_at`

// rolePrefix maps a role to its column prefix. Values are fixed so they are
// safe to splice into SQL.
func rolePrefix(r model.Role) string {
	if r == model.RoleConsumer {
		return "consumer"
	}
	return "provider"
}

// NewProgress describes the record created when an application is accepted.
type NewProgress struct {
	ApplicationID int64
	ServiceID     int64
	ProviderID    int64
	ConsumerID    int64
	Hours         decimal.Decimal
	SelectedAt    time.Time
}

func (s *ProgressStore) Create(ctx context.Context, np NewProgress) (*model.Progress, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO service_progress (application_id, service_id, provider_id, consumer_id, status, hours_minutes, selected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		np.ApplicationID, np.ServiceID, np.ProviderID, np.ConsumerID,
		model.ProgressSelected, ledger.ToMinutes(np.Hours), np.SelectedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert progress: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ProgressStore) GetByID(ctx context.Context, id int64) (*model.Progress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+progressCols+` FROM service_progress WHERE id = ?`, id)
	p, err := scanProgress(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

func (s *ProgressStore) GetByApplication(ctx context.Context, applicationID int64) (*model.Progress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+progressCols+` FROM service_progress WHERE application_id = ?`, applicationID)
	p, err := scanProgress(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress by application: %w", err)
	}
	return p, nil
}

// Schedule applies an accepted proposal. It also clears both start
// confirmations, since they referred to the previous slot.
func (s *ProgressStore) Schedule(ctx context.Context, id int64, p model.Proposal, hours decimal.Decimal, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress
		 SET status = ?, scheduled_date = ?, scheduled_time = ?, agreed_location = ?, hours_minutes = ?,
		     scheduled_at = ?,
		     provider_start_confirmed = 0, provider_start_confirmed_at = NULL,
		     consumer_start_confirmed = 0, consumer_start_confirmed_at = NULL,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (?, ?)`,
		model.ProgressScheduled, p.Date, p.StartTime, p.Location, ledger.ToMinutes(hours), at.UTC(),
		id, model.ProgressSelected, model.ProgressScheduled,
	)
	if err != nil {
		return fmt.Errorf("schedule progress: %w", err)
	}
	return expectOne(res)
}

// Cancel ends a record that has not started yet.
func (s *ProgressStore) Cancel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (?, ?)`,
		model.ProgressCancelled, id, model.ProgressSelected, model.ProgressScheduled,
	)
	if err != nil {
		return fmt.Errorf("cancel progress: %w", err)
	}
	return expectOne(res)
}

// ConfirmStart records the role's start confirmation. Repeating it keeps the
// original timestamp.
func (s *ProgressStore) ConfirmStart(ctx context.Context, id int64, r model.Role, at time.Time) error {
	col := rolePrefix(r) + "_start_confirmed"
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress
		 SET `+col+` = 1, `+col+`_at = COALESCE(`+col+`_at, ?), updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		at.UTC(), id, model.ProgressScheduled,
	)
	if err != nil {
		return fmt.Errorf("confirm start: %w", err)
	}
	return expectOne(res)
}

// ResetStartConfirmations clears both start confirmations.
func (s *ProgressStore) ResetStartConfirmations(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress
		 SET provider_start_confirmed = 0, provider_start_confirmed_at = NULL,
		     consumer_start_confirmed = 0, consumer_start_confirmed_at = NULL,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		id, model.ProgressScheduled,
	)
	if err != nil {
		return fmt.Errorf("reset start confirmations: %w", err)
	}
	return expectOne(res)
}

// Start moves a scheduled record to in_progress once both parties confirmed.
func (s *ProgressStore) Start(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress SET status = ?, started_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ? AND provider_start_confirmed = 1 AND consumer_start_confirmed = 1`,
		model.ProgressInProgress, at.UTC(), id, model.ProgressScheduled,
	)
	if err != nil {
		return fmt.Errorf("start progress: %w", err)
	}
	return expectOne(res)
}

// Finish moves an in-progress record to awaiting_confirmation with a survey deadline.
func (s *ProgressStore) Finish(ctx context.Context, id int64, at, deadline time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress
		 SET status = ?, finished_at = ?, survey_deadline = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		model.ProgressAwaitingConfirmation, at.UTC(), deadline.UTC(), id, model.ProgressInProgress,
	)
	if err != nil {
		return fmt.Errorf("finish progress: %w", err)
	}
	return expectOne(res)
}

// SubmitSurvey stores the role's survey. It matches only while the record is
// awaiting confirmation and the role has not submitted yet.
func (s *ProgressStore) SubmitSurvey(ctx context.Context, id int64, r model.Role, data json.RawMessage, at time.Time) error {
	col := rolePrefix(r) + "_survey"
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress
		 SET `+col+`_submitted = 1, `+col+`_submitted_at = ?, `+col+`_data = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ? AND `+col+`_submitted = 0`,
		at.UTC(), string(data), id, model.ProgressAwaitingConfirmation,
	)
	if err != nil {
		return fmt.Errorf("submit survey: %w", err)
	}
	return expectOne(res)
}

// CompleteSurveyed completes a record whose surveys are both in. It matches
// at most once per record.
func (s *ProgressStore) CompleteSurveyed(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress SET status = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ? AND provider_survey_submitted = 1 AND consumer_survey_submitted = 1`,
		model.ProgressCompleted, at.UTC(), id, model.ProgressAwaitingConfirmation,
	)
	if err != nil {
		return fmt.Errorf("complete progress: %w", err)
	}
	return expectOne(res)
}

// CompleteExpired completes a record whose survey deadline has passed. It
// matches at most once per record.
func (s *ProgressStore) CompleteExpired(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_progress SET status = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ? AND survey_deadline <= ?`,
		model.ProgressCompleted, now.UTC(), id, model.ProgressAwaitingConfirmation, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("complete expired progress: %w", err)
	}
	return expectOne(res)
}

// ListExpired returns ids above afterID, ascending, of records awaiting
// confirmation past their deadline.
func (s *ProgressStore) ListExpired(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM service_progress
		 WHERE status = ? AND survey_deadline <= ? AND id > ?
		 ORDER BY id LIMIT ?`,
		model.ProgressAwaitingConfirmation, now.UTC(), afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired progress: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan progress id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
