package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/dukerupert/timebank/internal/database"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) (*sql.DB, *Stores) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, New(db)
}

func hours(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createUser(t *testing.T, st *Stores, name, balance string) *model.User {
	t.Helper()
	u, err := st.Users.Create(context.Background(), name, hours(balance))
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func createService(t *testing.T, st *Stores, ownerID int64, typ model.ServiceType, h string) *model.Service {
	t.Helper()
	sv, err := st.Services.Create(context.Background(), ownerID, typ, "Garden help", "", hours(h))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return sv
}

func TestInTxRollsBackOnError(t *testing.T) {
	db, st := setupTestDB(t)
	ctx := context.Background()
	u := createUser(t, st, "Alice", "1")

	boom := errors.New("boom")
	err := InTx(ctx, db, func(tx *Stores) error {
		if err := tx.Users.SetBalance(ctx, u.ID, hours("5")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	got, err := st.Users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !got.TimeBalance.Equal(hours("1")) {
		t.Errorf("balance = %s, want 1 after rollback", got.TimeBalance)
	}
}

func TestInTxCommits(t *testing.T) {
	db, st := setupTestDB(t)
	ctx := context.Background()
	u := createUser(t, st, "Alice", "1")

	err := InTx(ctx, db, func(tx *Stores) error {
		return tx.Users.SetBalance(ctx, u.ID, hours("4.5"))
	})
	if err != nil {
		t.Fatalf("in tx: %v", err)
	}

	got, _ := st.Users.GetByID(ctx, u.ID)
	if !got.TimeBalance.Equal(hours("4.5")) {
		t.Errorf("balance = %s, want 4.5", got.TimeBalance)
	}
}

func TestUserBalances(t *testing.T) {
	_, st := setupTestDB(t)
	ctx := context.Background()
	consumer := createUser(t, st, "Carol", "3.5")
	provider := createUser(t, st, "Paul", "9")

	b, err := st.Users.Balances(ctx, consumer.ID, provider.ID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if !b.Consumer.Equal(hours("3.5")) || !b.Provider.Equal(hours("9")) {
		t.Errorf("balances = %+v", b)
	}

	if _, err := st.Users.Balances(ctx, consumer.ID, 999); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing user err = %v, want sql.ErrNoRows", err)
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	_, st := setupTestDB(t)
	u, err := st.Users.GetByID(context.Background(), 42)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u != nil {
		t.Error("expected nil for missing user")
	}
}

func TestSetBalanceMissingUser(t *testing.T) {
	_, st := setupTestDB(t)
	err := st.Users.SetBalance(context.Background(), 42, hours("1"))
	if !errors.Is(err, ErrNotUpdated) {
		t.Errorf("err = %v, want ErrNotUpdated", err)
	}
}

func TestServiceScheduleAndStatus(t *testing.T) {
	_, st := setupTestDB(t)
	ctx := context.Background()
	owner := createUser(t, st, "Olga", "1")
	sv := createService(t, st, owner.ID, model.ServiceOffer, "2")

	if sv.Status != model.ServiceOpen {
		t.Errorf("status = %q, want open", sv.Status)
	}
	if !sv.HoursRequired.Equal(hours("2")) {
		t.Errorf("hours_required = %s, want 2", sv.HoursRequired)
	}

	p := model.Proposal{Date: "2026-10-20", StartTime: "10:00", EndTime: "12:00", Location: "Library"}
	if err := st.Services.SetSchedule(ctx, sv.ID, p); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	if err := st.Services.SetStatus(ctx, sv.ID, model.ServiceInProgress); err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, _ := st.Services.GetByID(ctx, sv.ID)
	if got.Date != "2026-10-20" || got.StartTime != "10:00" || got.EndTime != "12:00" || got.Location != "Library" {
		t.Errorf("schedule = %+v", got)
	}
	if got.Status != model.ServiceInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}

	open, err := st.Services.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open services = %d, want 0", len(open))
	}
}
