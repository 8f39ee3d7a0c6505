package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/peertransfer/ledger/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNegativeBalance is returned when an adjustment would take a
	// balance below zero. The accounts table carries a CHECK constraint
	// as the final backstop.
	ErrNegativeBalance = errors.New("balance would go negative")
)

const pgCheckViolation = "23514"

// Store owns account and transfer persistence on PostgreSQL.
type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// GetAccountByUser retrieves the account owned by a user.
func (s *Store) GetAccountByUser(ctx context.Context, userID int64) (*models.Account, error) {
	return scanAccount(s.Db.QueryRow(ctx,
		"SELECT account_id, user_id, balance FROM accounts WHERE user_id = $1", userID))
}

// GetBalance retrieves the current balance of an account.
func (s *Store) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.Db.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE account_id = $1", accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("balance query failed: %w", err)
	}
	return balance, nil
}

// GetAccountByUserTx is GetAccountByUser inside the caller's transaction.
func (s *Store) GetAccountByUserTx(ctx context.Context, tx pgx.Tx, userID int64) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx,
		"SELECT account_id, user_id, balance FROM accounts WHERE user_id = $1", userID))
}

// LockAccount acquires an exclusive row lock on the account and returns its
// current state. Callers locking two accounts must do so in ascending id order.
func (s *Store) LockAccount(ctx context.Context, tx pgx.Tx, accountID int64) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx,
		"SELECT account_id, user_id, balance FROM accounts WHERE account_id = $1 FOR UPDATE", accountID))
}

// AdjustBalance applies delta (positive or negative) to the account balance
// within the caller's transaction and returns the new balance. Repeated calls
// in the same transaction see each other's effects. A result below zero fails
// with ErrNegativeBalance and leaves the transaction poisoned for rollback.
func (s *Store) AdjustBalance(ctx context.Context, tx pgx.Tx, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE account_id = $2 RETURNING balance",
		delta, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
			return decimal.Zero, ErrNegativeBalance
		}
		return decimal.Zero, fmt.Errorf("balance adjustment failed: %w", err)
	}
	return balance, nil
}

// InsertTransfer writes a new transfer row within the caller's transaction
// and returns its id.
func (s *Store) InsertTransfer(ctx context.Context, tx pgx.Tx, typeID, statusID int32, fromAccountID, toAccountID int64, amount decimal.Decimal) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO transfers (transfer_type_id, transfer_status_id, account_from, account_to, amount)
		 VALUES ($1, $2, $3, $4, $5) RETURNING transfer_id`,
		typeID, statusID, fromAccountID, toAccountID, amount).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("transfer insert failed: %w", err)
	}
	return id, nil
}

// LockTransfer acquires an exclusive row lock on a transfer and returns it.
func (s *Store) LockTransfer(ctx context.Context, tx pgx.Tx, transferID int64) (*models.Transfer, error) {
	var t models.Transfer
	err := tx.QueryRow(ctx,
		`SELECT transfer_id, transfer_type_id, transfer_status_id, account_from, account_to, amount, created_at
		 FROM transfers WHERE transfer_id = $1 FOR UPDATE`, transferID).
		Scan(&t.ID, &t.TypeID, &t.StatusID, &t.AccountFromID, &t.AccountToID, &t.Amount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("transfer lock failed: %w", err)
	}
	return &t, nil
}

// SetTransferStatus transitions a transfer's status within the caller's
// transaction. The ledger guarantees the row is locked and Pending.
func (s *Store) SetTransferStatus(ctx context.Context, tx pgx.Tx, transferID int64, statusID int32) error {
	tag, err := tx.Exec(ctx,
		"UPDATE transfers SET transfer_status_id = $1 WHERE transfer_id = $2", statusID, transferID)
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.UserID, &a.Balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	return &a, nil
}
