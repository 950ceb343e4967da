package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every store can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Stores groups every store bound to the same connection or transaction.
type Stores struct {
	Users        *UserStore
	Services     *ServiceStore
	Applications *ApplicationStore
	Progress     *ProgressStore
	Messages     *MessageStore
	Ledger       *LedgerStore
}

func New(db DBTX) *Stores {
	return &Stores{
		Users:        NewUserStore(db),
		Services:     NewServiceStore(db),
		Applications: NewApplicationStore(db),
		Progress:     NewProgressStore(db),
		Messages:     NewMessageStore(db),
		Ledger:       NewLedgerStore(db),
	}
}

// InTx runs fn with stores bound to a single transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func InTx(ctx context.Context, db *sql.DB, fn func(*Stores) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(New(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ErrNotUpdated is returned by guarded updates whose WHERE clause matched no row.
var ErrNotUpdated = errors.New("no rows updated")

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotUpdated
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
