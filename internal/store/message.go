package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/timebank/internal/model"
)

// MessageStore holds conversation messages, including schedule proposals.
type MessageStore struct {
	db DBTX
}

func NewMessageStore(db DBTX) *MessageStore {
	return &MessageStore{db: db}
}

func scanMessage(scanner interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var progressID sql.NullInt64
	var p model.Proposal
	var proposalStatus sql.NullString

	err := scanner.Scan(
		&m.ID, &m.ApplicationID, &progressID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Type,
		&p.Date, &p.StartTime, &p.EndTime, &p.Location, &proposalStatus,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if progressID.Valid {
		m.ProgressID = &progressID.Int64
	}
	if m.Type == model.MessageScheduleProposal {
		p.Status = model.ProposalStatus(proposalStatus.String)
		m.Proposal = &p
	}
	return &m, nil
}

const messageCols = `id, application_id, progress_id, sender_id, receiver_id, body, message_type,
	proposed_date, proposed_start_time, proposed_end_time, proposed_location, proposal_status,
	created_at, updated_at`

// NewMessage describes a message to insert. A non-nil Proposal makes it a
// pending schedule proposal.
type NewMessage struct {
	ApplicationID int64
	ProgressID    *int64
	SenderID      int64
	ReceiverID    int64
	Body          string
	Proposal      *model.Proposal
}

func (s *MessageStore) Create(ctx context.Context, nm NewMessage) (*model.Message, error) {
	var progressID sql.NullInt64
	if nm.ProgressID != nil {
		progressID = sql.NullInt64{Int64: *nm.ProgressID, Valid: true}
	}

	typ := model.MessageText
	var p model.Proposal
	var status sql.NullString
	if nm.Proposal != nil {
		typ = model.MessageScheduleProposal
		p = *nm.Proposal
		status = sql.NullString{String: string(model.ProposalPending), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (application_id, progress_id, sender_id, receiver_id, body, message_type,
			proposed_date, proposed_start_time, proposed_end_time, proposed_location, proposal_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nm.ApplicationID, progressID, nm.SenderID, nm.ReceiverID, nm.Body, typ,
		p.Date, p.StartTime, p.EndTime, p.Location, status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *MessageStore) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListByApplication returns the conversation for an application, oldest first.
func (s *MessageStore) ListByApplication(ctx context.Context, applicationID int64) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE application_id = ? ORDER BY id ASC`,
		applicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// PendingProposal returns the pending schedule proposal for a progress record, if any.
func (s *MessageStore) PendingProposal(ctx context.Context, progressID int64) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE progress_id = ? AND message_type = ? AND proposal_status = ?`,
		progressID, model.MessageScheduleProposal, model.ProposalPending,
	)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending proposal: %w", err)
	}
	return m, nil
}

// TransitionProposal moves a proposal between statuses. It returns
// ErrNotUpdated when the proposal is no longer in the from status.
func (s *MessageStore) TransitionProposal(ctx context.Context, id int64, from, to model.ProposalStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET proposal_status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND message_type = ? AND proposal_status = ?`,
		to, id, model.MessageScheduleProposal, from,
	)
	if err != nil {
		return fmt.Errorf("transition proposal: %w", err)
	}
	return expectOne(res)
}

// CancelPending cancels any pending schedule proposal for a progress record.
func (s *MessageStore) CancelPending(ctx context.Context, progressID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET proposal_status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE progress_id = ? AND message_type = ? AND proposal_status = ?`,
		model.ProposalCancelled, progressID, model.MessageScheduleProposal, model.ProposalPending,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending proposals: %w", err)
	}
	return res.RowsAffected()
}
