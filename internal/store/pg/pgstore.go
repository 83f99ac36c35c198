// Package pg backs the account directory and the ledger with PostgreSQL.
// The transfer path's atomic unit maps onto a single transaction: Update
// locks both account rows in identifier order, and a ledger append performed
// inside the update joins the same transaction via the context.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"quantumbank.org/internal/account"
	"quantumbank.org/internal/ids"
	"quantumbank.org/internal/ledger"
)

type Store struct {
	db *sql.DB
}

var (
	_ account.Directory = (*Store)(nil)
	_ ledger.Ledger     = (*Store)(nil)
)

// Open connects to Postgres with pool defaults tuned for the API workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (used by tests and the migrate command).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- account.Directory ---

func (s *Store) Create(ctx context.Context, acc account.Account) (account.Account, error) {
	if acc.ID == "" {
		return account.Account{}, account.ErrNotFound
	}
	acc.Email = account.NormalizeEmail(acc.Email)
	if acc.Email == "" {
		return account.Account{}, account.ErrNotFound
	}
	if acc.Balance < 0 {
		return account.Account{}, account.ErrInvalidAmount
	}

	err := s.db.QueryRowContext(ctx, `
		insert into accounts(id, email, display_name, balance, created_at)
		values ($1, $2, $3, $4, now())
		returning created_at
	`, acc.ID, acc.Email, acc.DisplayName, acc.Balance).Scan(&acc.CreatedAt)
	if isUniqueViolation(err) {
		return account.Account{}, account.ErrAlreadyExists
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("pg: create account: %w", err)
	}
	return acc, nil
}

func (s *Store) Get(ctx context.Context, id string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		select id, email, display_name, balance, created_at
		from accounts where id = $1
	`, id))
}

func (s *Store) Resolve(ctx context.Context, email string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		select id, email, display_name, balance, created_at
		from accounts where email = $1
	`, account.NormalizeEmail(email)))
}

func (s *Store) scanAccount(row *sql.Row) (account.Account, error) {
	var acc account.Account
	err := row.Scan(&acc.ID, &acc.Email, &acc.DisplayName, &acc.Balance, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, account.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("pg: scan account: %w", err)
	}
	return acc, nil
}

// Update locks both account rows FOR UPDATE in identifier order, runs fn, and
// commits the balance writes together with anything fn appended through the
// same context. fn returning an error rolls everything back.
func (s *Store) Update(ctx context.Context, fromID, toID string, fn func(ctx context.Context, from, to *account.Account) error) error {
	if fromID == toID {
		return account.ErrSameAccount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}

	locked := make(map[string]*account.Account, 2)
	for _, id := range []string{first, second} {
		var acc account.Account
		err := tx.QueryRowContext(ctx, `
			select id, email, display_name, balance, created_at
			from accounts where id = $1 for update
		`, id).Scan(&acc.ID, &acc.Email, &acc.DisplayName, &acc.Balance, &acc.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return account.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("pg: lock account: %w", err)
		}
		locked[id] = &acc
	}

	from, to := locked[fromID], locked[toID]
	if err := fn(withTx(ctx, tx), from, to); err != nil {
		return err
	}

	for _, acc := range []*account.Account{from, to} {
		if _, err := tx.ExecContext(ctx, `update accounts set balance = $2 where id = $1`, acc.ID, acc.Balance); err != nil {
			return fmt.Errorf("pg: write balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

// --- ledger.Ledger ---

// Append persists a transfer record. Inside Update it joins the surrounding
// transaction, making debit, credit, and append one unit.
func (s *Store) Append(ctx context.Context, rec ledger.Record) (ledger.Record, error) {
	if rec.From == "" || rec.To == "" || rec.Amount <= 0 {
		return ledger.Record{}, ledger.ErrInvalidRecord
	}
	rec.ID = ids.New()

	var run interface {
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	} = s.db
	if tx, ok := txFrom(ctx); ok {
		run = tx
	}

	err := run.QueryRowContext(ctx, `
		insert into transfers(id, from_id, to_id, amount, created_at)
		values ($1, $2, $3, $4, now())
		returning created_at
	`, rec.ID, rec.From, rec.To, rec.Amount).Scan(&rec.CreatedAt)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("pg: append transfer: %w", err)
	}
	return rec, nil
}

func (s *Store) QueryBySource(ctx context.Context, accountID string) ([]ledger.Record, error) {
	return s.queryTransfers(ctx, `
		select id, from_id, to_id, amount, created_at
		from transfers where from_id = $1 order by id
	`, accountID)
}

func (s *Store) QueryByDestination(ctx context.Context, accountID string) ([]ledger.Record, error) {
	return s.queryTransfers(ctx, `
		select id, from_id, to_id, amount, created_at
		from transfers where to_id = $1 order by id
	`, accountID)
}

func (s *Store) queryTransfers(ctx context.Context, query, accountID string) ([]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("pg: query transfers: %w", err)
	}
	defer rows.Close()

	var recs []ledger.Record
	for rows.Next() {
		var rec ledger.Record
		if err := rows.Scan(&rec.ID, &rec.From, &rec.To, &rec.Amount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan transfer: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: iterate transfers: %w", err)
	}
	return recs, nil
}
