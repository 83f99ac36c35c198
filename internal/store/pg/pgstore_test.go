package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"quantumbank.org/internal/account"
	"quantumbank.org/internal/ledger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func accountRow(id, email string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "display_name", "balance", "created_at"}).
		AddRow(id, email, "", balance, time.Now().UTC())
}

func TestCreateAccount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into accounts").
		WithArgs("uid-a", "alice@example.com", "Alice", int64(10000)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))

	acc, err := s.Create(context.Background(), account.Account{
		ID:          "uid-a",
		Email:       "Alice@Example.com",
		DisplayName: "Alice",
		Balance:     10000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if acc.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %s", acc.Email)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select id, email, display_name, balance, created_at from accounts where email").
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.Resolve(context.Background(), "ghost@example.com"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateAppliesTransferInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	// Rows are locked in identifier order regardless of transfer direction:
	// the transfer runs uid-b -> uid-a but uid-a is locked first.
	mock.ExpectQuery("from accounts where id = .. for update").
		WithArgs("uid-a").
		WillReturnRows(accountRow("uid-a", "a@example.com", 0))
	mock.ExpectQuery("from accounts where id = .. for update").
		WithArgs("uid-b").
		WillReturnRows(accountRow("uid-b", "b@example.com", 10000))
	mock.ExpectQuery("insert into transfers").
		WithArgs(sqlmock.AnyArg(), "uid-b", "uid-a", int64(2500)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))
	mock.ExpectExec("update accounts set balance").
		WithArgs("uid-b", int64(7500)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update accounts set balance").
		WithArgs("uid-a", int64(2500)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Update(context.Background(), "uid-b", "uid-a", func(ctx context.Context, from, to *account.Account) error {
		if from.ID != "uid-b" || to.ID != "uid-a" {
			t.Fatalf("wrong accounts passed to fn: %s -> %s", from.ID, to.ID)
		}
		if err := from.Debit(2500); err != nil {
			return err
		}
		if err := to.Credit(2500); err != nil {
			return err
		}
		if _, err := s.Append(ctx, ledger.Record{From: from.ID, To: to.ID, Amount: 2500}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateRollsBackWhenFnFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("from accounts where id = .. for update").
		WithArgs("uid-a").
		WillReturnRows(accountRow("uid-a", "a@example.com", 100))
	mock.ExpectQuery("from accounts where id = .. for update").
		WithArgs("uid-b").
		WillReturnRows(accountRow("uid-b", "b@example.com", 0))
	mock.ExpectRollback()

	err := s.Update(context.Background(), "uid-a", "uid-b", func(ctx context.Context, from, to *account.Account) error {
		return from.Debit(15000)
	})
	if !errors.Is(err, account.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateRejectsSameAccount(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.Update(context.Background(), "uid-a", "uid-a", func(ctx context.Context, from, to *account.Account) error {
		return nil
	})
	if !errors.Is(err, account.ErrSameAccount) {
		t.Fatalf("expected ErrSameAccount, got %v", err)
	}
}

func TestQueryBySource(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "from_id", "to_id", "amount", "created_at"}).
		AddRow("01A", "uid-a", "uid-b", int64(100), time.Now().UTC()).
		AddRow("01B", "uid-a", "uid-c", int64(200), time.Now().UTC())
	mock.ExpectQuery("from transfers where from_id").
		WithArgs("uid-a").
		WillReturnRows(rows)

	recs, err := s.QueryBySource(context.Background(), "uid-a")
	if err != nil {
		t.Fatalf("QueryBySource: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "01A" || recs[1].Amount != 200 {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
