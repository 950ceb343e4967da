package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/shopspring/decimal"
)

// UserStore is the slice of the user directory the exchange needs:
// reading balances and writing them through the ledger.
type UserStore struct {
	db DBTX
}

func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var minutes int64
	err := scanner.Scan(&u.ID, &u.Name, &minutes, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.TimeBalance = ledger.FromMinutes(minutes)
	return &u, nil
}

const userCols = `id, name, balance_minutes, created_at`

func (s *UserStore) Create(ctx context.Context, name string, balance decimal.Decimal) (*model.User, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, balance_minutes) VALUES (?, ?)`,
		name, ledger.ToMinutes(balance),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Balances reads the current balances of both parties.
func (s *UserStore) Balances(ctx context.Context, consumerID, providerID int64) (ledger.Balances, error) {
	var consumer, provider sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT balance_minutes FROM users WHERE id = ?),
			(SELECT balance_minutes FROM users WHERE id = ?)`,
		consumerID, providerID,
	).Scan(&consumer, &provider)
	if err != nil {
		return ledger.Balances{}, fmt.Errorf("get balances: %w", err)
	}
	if !consumer.Valid || !provider.Valid {
		return ledger.Balances{}, fmt.Errorf("get balances: %w", sql.ErrNoRows)
	}
	return ledger.Balances{
		Consumer: ledger.FromMinutes(consumer.Int64),
		Provider: ledger.FromMinutes(provider.Int64),
	}, nil
}

// SetBalance overwrites a user's balance. Only the testing hook calls this.
func (s *UserStore) SetBalance(ctx context.Context, id int64, hours decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET balance_minutes = ? WHERE id = ?`,
		ledger.ToMinutes(hours), id,
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return expectOne(res)
}
