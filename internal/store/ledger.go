package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStore moves time credits between users and keeps one entry per
// settled progress record.
type LedgerStore struct {
	db DBTX
}

func NewLedgerStore(db DBTX) *LedgerStore {
	return &LedgerStore{db: db}
}

func scanLedgerEntry(scanner interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var debited, credited int64

	err := scanner.Scan(&e.ID, &e.Reference, &e.ProgressID, &e.ConsumerID, &e.ProviderID,
		&debited, &credited, &e.SettledBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Debited = ledger.FromMinutes(debited)
	e.Credited = ledger.FromMinutes(credited)
	return &e, nil
}

const ledgerCols = `id, reference, progress_id, consumer_id, provider_id, debited_minutes, credited_minutes, settled_by, created_at`

// Transfer describes one settlement.
type Transfer struct {
	ProgressID int64
	ConsumerID int64
	ProviderID int64
	Hours      decimal.Decimal
	Max        decimal.Decimal
	SettledBy  model.SettlementTrigger
}

// Transfer debits the consumer the full hours and credits the provider up to
// the balance cap, then records the entry. Balances change through single
// UPDATE statements. Callers run it inside the transaction that completed the
// progress record; the unique progress_id rejects a second transfer.
func (s *LedgerStore) Transfer(ctx context.Context, t Transfer) (*model.LedgerEntry, error) {
	minutes := ledger.ToMinutes(t.Hours)
	capMinutes := ledger.ToMinutes(t.Max)

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET balance_minutes = balance_minutes - ? WHERE id = ?`,
		minutes, t.ConsumerID,
	)
	if err != nil {
		return nil, fmt.Errorf("debit consumer: %w", err)
	}
	if err := expectOne(res); err != nil {
		return nil, fmt.Errorf("debit consumer: %w", err)
	}

	// The enclosing transaction holds the write lock, so the headroom read
	// here is still current when the increment runs.
	var credited int64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(?, MAX(? - balance_minutes, 0)) FROM users WHERE id = ?`,
		minutes, capMinutes, t.ProviderID,
	).Scan(&credited)
	if err != nil {
		return nil, fmt.Errorf("provider headroom: %w", err)
	}

	res, err = s.db.ExecContext(ctx,
		`UPDATE users SET balance_minutes = balance_minutes + ? WHERE id = ?`,
		credited, t.ProviderID,
	)
	if err != nil {
		return nil, fmt.Errorf("credit provider: %w", err)
	}
	if err := expectOne(res); err != nil {
		return nil, fmt.Errorf("credit provider: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (reference, progress_id, consumer_id, provider_id, debited_minutes, credited_minutes, settled_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), t.ProgressID, t.ConsumerID, t.ProviderID, minutes, credited, t.SettledBy,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *LedgerStore) GetByID(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerCols+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanLedgerEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

func (s *LedgerStore) GetByProgress(ctx context.Context, progressID int64) (*model.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerCols+` FROM ledger_entries WHERE progress_id = ?`, progressID)
	e, err := scanLedgerEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry by progress: %w", err)
	}
	return e, nil
}

// CountByProgress returns how many transfers were recorded for a progress record.
func (s *LedgerStore) CountByProgress(ctx context.Context, progressID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE progress_id = ?`, progressID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// ListByUser returns entries where the user was either party, newest first.
func (s *LedgerStore) ListByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE consumer_id = ? OR provider_id = ? ORDER BY id DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
