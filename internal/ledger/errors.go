package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrSelfTransfer       = errors.New("cannot transfer to self")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNegativeBalance    = errors.New("balance would go negative")
	ErrInvalidState       = errors.New("transfer is not pending")
	ErrForbidden          = errors.New("not a party to this transfer")
	ErrContentionTimeout  = errors.New("timed out waiting for account locks")
	ErrPersistenceFailure = errors.New("storage failure")
)

// Postgres SQLSTATE codes the ledger maps to typed errors.
const (
	pgLockNotAvailable = "55P03"
	pgCheckViolation   = "23514"
)

// mapStorageErr classifies an unexpected error from pgx. Lock timeouts become
// the retryable ErrContentionTimeout; everything unrecognized is wrapped as
// ErrPersistenceFailure so it can never be mistaken for success or for a
// validation failure.
func mapStorageErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return fmt.Errorf("%w: %s", ErrContentionTimeout, pgErr.Message)
		case pgCheckViolation:
			return fmt.Errorf("%w: %s", ErrNegativeBalance, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrContentionTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
}

// Retryable reports whether the caller may safely retry the whole operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrContentionTimeout)
}
