package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/peertransfer/ledger/internal/models"
	"github.com/peertransfer/ledger/internal/store"
)

const DefaultLockTimeout = 3 * time.Second

// Ledger validates and atomically executes balance transfers. Every mutating
// operation runs as a single transaction: validation, ordered row locks on
// both accounts, balance adjustments and the transfer row commit or roll back
// together.
type Ledger struct {
	db          *pgxpool.Pool
	accounts    *store.Store
	log         *zap.Logger
	lockTimeout time.Duration
}

func New(db *pgxpool.Pool, accounts *store.Store, log *zap.Logger, lockTimeout time.Duration) *Ledger {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Ledger{db: db, accounts: accounts, log: log, lockTimeout: lockTimeout}
}

// ExecuteSend moves amount from the sender's account to the recipient's and
// records an Approved Send transfer. Returns the new transfer id.
func (l *Ledger) ExecuteSend(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (int64, error) {
	return l.create(ctx, models.TypeSend, fromUserID, toUserID, amount)
}

// ExecuteRequest records a Pending Request transfer asking the payer
// (fromUserID) to send amount to the requester (toUserID). No funds move
// until the payer approves.
func (l *Ledger) ExecuteRequest(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (int64, error) {
	return l.create(ctx, models.TypeRequest, fromUserID, toUserID, amount)
}

func (l *Ledger) create(ctx context.Context, typeID int32, fromUserID, toUserID int64, amount decimal.Decimal) (int64, error) {
	tx, err := l.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	from, err := l.resolveAccount(ctx, tx, fromUserID)
	if err != nil {
		return 0, err
	}
	to, err := l.resolveAccount(ctx, tx, toUserID)
	if err != nil {
		return 0, err
	}
	if err := checkTransfer(from, to, amount); err != nil {
		return 0, err
	}

	statusID := models.StatusApproved
	if typeID == models.TypeRequest {
		statusID = models.StatusPending
	}

	if typeID == models.TypeSend {
		// Re-read under exclusive locks: the unlocked balances above may be
		// stale by the time we mutate.
		locked, err := l.lockPair(ctx, tx, from.ID, to.ID)
		if err != nil {
			return 0, err
		}
		if locked[from.ID].Balance.LessThan(amount) {
			return 0, ErrInsufficientFunds
		}
		if err := l.moveFunds(ctx, tx, from.ID, to.ID, amount); err != nil {
			return 0, err
		}
	}

	transferID, err := l.accounts.InsertTransfer(ctx, tx, typeID, statusID, from.ID, to.ID, amount)
	if err != nil {
		return 0, mapStorageErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapStorageErr(err)
	}

	l.log.Info("transfer created",
		zap.Int64("transfer_id", transferID),
		zap.Int32("type_id", typeID),
		zap.Int64("from_account", from.ID),
		zap.Int64("to_account", to.ID),
		zap.String("amount", amount.String()))
	return transferID, nil
}

// ApproveRequest moves the funds of a Pending Request and marks it Approved.
// Only the payer (owner of the debited account) may approve, exactly once.
// Amount and funds checks re-run against current balances.
func (l *Ledger) ApproveRequest(ctx context.Context, transferID, actingUserID int64) error {
	return l.resolve(ctx, transferID, actingUserID, true)
}

// RejectRequest marks a Pending Request as Rejected. No funds move. Only the
// payer may reject, and only while the request is still Pending.
func (l *Ledger) RejectRequest(ctx context.Context, transferID, actingUserID int64) error {
	return l.resolve(ctx, transferID, actingUserID, false)
}

func (l *Ledger) resolve(ctx context.Context, transferID, actingUserID int64, approve bool) error {
	tx, err := l.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	t, err := l.accounts.LockTransfer(ctx, tx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTransferNotFound
		}
		return mapStorageErr(err)
	}
	if t.TypeID != models.TypeRequest || t.StatusID != models.StatusPending {
		return ErrInvalidState
	}

	// The transfer row is locked before the account rows; account locks are
	// taken in ascending id order. Both orderings are global, so concurrent
	// resolutions cannot deadlock.
	locked, err := l.lockPair(ctx, tx, t.AccountFromID, t.AccountToID)
	if err != nil {
		return err
	}
	if locked[t.AccountFromID].UserID != actingUserID {
		return ErrForbidden
	}

	newStatus := models.StatusRejected
	if approve {
		if !t.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		if locked[t.AccountFromID].Balance.LessThan(t.Amount) {
			return ErrInsufficientFunds
		}
		if err := l.moveFunds(ctx, tx, t.AccountFromID, t.AccountToID, t.Amount); err != nil {
			return err
		}
		newStatus = models.StatusApproved
	}

	if err := l.accounts.SetTransferStatus(ctx, tx, transferID, newStatus); err != nil {
		return mapStorageErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapStorageErr(err)
	}

	l.log.Info("request resolved",
		zap.Int64("transfer_id", transferID),
		zap.Int64("acting_user", actingUserID),
		zap.Bool("approved", approve))
	return nil
}

// begin opens the transaction every mutating operation runs in. Lock waits
// are bounded so contention surfaces as a retryable error instead of an
// indefinite block.
func (l *Ledger) begin(ctx context.Context) (pgx.Tx, error) {
	// ReadCommitted plus explicit FOR UPDATE locks: after a lock wait the
	// re-read sees the latest committed balance, so concurrent transfers
	// serialize on the account rows instead of aborting with serialization
	// failures.
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, mapStorageErr(fmt.Errorf("tx begin failed: %w", err))
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())); err != nil {
		tx.Rollback(ctx)
		return nil, mapStorageErr(err)
	}
	return tx, nil
}

func (l *Ledger) resolveAccount(ctx context.Context, tx pgx.Tx, userID int64) (*models.Account, error) {
	acc, err := l.accounts.GetAccountByUserTx(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrAccountNotFound, userID)
		}
		return nil, mapStorageErr(err)
	}
	return acc, nil
}

// lockPair acquires exclusive locks on both accounts in ascending id order,
// regardless of transfer direction, so that opposite-direction transfers on
// the same pair cannot deadlock.
func (l *Ledger) lockPair(ctx context.Context, tx pgx.Tx, a, b int64) (map[int64]*models.Account, error) {
	first, second := a, b
	if first > second {
		first, second = second, first
	}
	locked := make(map[int64]*models.Account, 2)
	for _, id := range []int64{first, second} {
		acc, err := l.accounts.LockAccount(ctx, tx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: account %d", ErrAccountNotFound, id)
			}
			return nil, mapStorageErr(err)
		}
		locked[id] = acc
	}
	return locked, nil
}

// moveFunds debits from and credits to by amount. Both rows are already
// locked; the sum of the two adjustments is zero.
func (l *Ledger) moveFunds(ctx context.Context, tx pgx.Tx, fromAccountID, toAccountID int64, amount decimal.Decimal) error {
	if _, err := l.accounts.AdjustBalance(ctx, tx, fromAccountID, amount.Neg()); err != nil {
		if errors.Is(err, store.ErrNegativeBalance) {
			return ErrInsufficientFunds
		}
		return mapStorageErr(err)
	}
	if _, err := l.accounts.AdjustBalance(ctx, tx, toAccountID, amount); err != nil {
		return mapStorageErr(err)
	}
	return nil
}
