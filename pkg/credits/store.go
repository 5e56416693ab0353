// Package credits tracks billable balances per owner and credit kind and
// guards their consumption.
package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/benefitpress/scribe/pkg/models"
)

// BalanceStore is the storage port for credit balances.
type BalanceStore interface {
	// Get returns the current balance; a missing row reads as zero.
	Get(ctx context.Context, owner models.Owner, kind models.CreditKind) (int64, error)
	// Grant adds amount to a balance, creating the row on first use, and
	// returns the new balance.
	Grant(ctx context.Context, owner models.Owner, kind models.CreditKind, amount int64) (int64, error)
	// ConditionalDecrement atomically subtracts amount if and only if the
	// balance covers it, returning the new balance and whether it applied.
	ConditionalDecrement(ctx context.Context, owner models.Owner, kind models.CreditKind, amount int64) (int64, bool, error)
	// List returns all balances, optionally filtered to one owner.
	List(ctx context.Context, owner *models.Owner) ([]models.CreditBalance, error)
	// Close releases resources.
	Close() error
}

// Store implements BalanceStore with a SQLite database.
type Store struct {
	db *sql.DB
}

const createBalancesTable = `
CREATE TABLE IF NOT EXISTS credit_balances (
	owner_type TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (owner_type, owner_id, kind)
);
`

// NewStore opens the balances database and runs auto-migration.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open credits db: %w", err)
	}

	if _, err := db.Exec(createBalancesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credits db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the balance for (owner, kind). A row that was never created
// reads as zero; rows are only created on first Grant.
func (s *Store) Get(ctx context.Context, owner models.Owner, kind models.CreditKind) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE owner_type = ? AND owner_id = ? AND kind = ?`,
		owner.Type, owner.ID, kind,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// Grant adds amount to the balance, creating the row lazily.
func (s *Store) Grant(ctx context.Context, owner models.Owner, kind models.CreditKind, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("grant amount must be non-negative, got %d", amount)
	}
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO credit_balances (owner_type, owner_id, kind, balance, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner_type, owner_id, kind)
		 DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at
		 RETURNING balance`,
		owner.Type, owner.ID, kind, amount, time.Now().UTC(),
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return balance, nil
}

// ConditionalDecrement subtracts amount in a single guarded statement, so
// concurrent consumers of the same balance can never overdraw it. The
// check-then-write race is resolved at the storage layer, not above it.
func (s *Store) ConditionalDecrement(ctx context.Context, owner models.Owner, kind models.CreditKind, amount int64) (int64, bool, error) {
	if amount < 0 {
		return 0, false, fmt.Errorf("decrement amount must be non-negative, got %d", amount)
	}
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE credit_balances
		 SET balance = balance - ?, updated_at = ?
		 WHERE owner_type = ? AND owner_id = ? AND kind = ? AND balance >= ?
		 RETURNING balance`,
		amount, time.Now().UTC(), owner.Type, owner.ID, kind, amount,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("decrement balance: %w", err)
	}
	return balance, true, nil
}

// List returns all balances, optionally filtered to one owner.
func (s *Store) List(ctx context.Context, owner *models.Owner) ([]models.CreditBalance, error) {
	query := `SELECT owner_type, owner_id, kind, balance, updated_at FROM credit_balances`
	var args []any
	if owner != nil {
		query += ` WHERE owner_type = ? AND owner_id = ?`
		args = append(args, owner.Type, owner.ID)
	}
	query += ` ORDER BY owner_type, owner_id, kind`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []models.CreditBalance
	for rows.Next() {
		var b models.CreditBalance
		if err := rows.Scan(&b.Owner.Type, &b.Owner.ID, &b.Kind, &b.Balance, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
