// Package query provides read-only access to transfer history and detail
// views. It performs no mutation and takes no row locks; committed transfer
// rows are immutable, so plain reads are safe.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/peertransfer/ledger/internal/ledger"
	"github.com/peertransfer/ledger/internal/models"
)

const listQuery = `
	SELECT t.transfer_id, t.transfer_type_id, t.transfer_status_id,
	       t.account_from, t.account_to, t.amount, t.created_at,
	       a.user_id, b.user_id, u.username, v.username
	FROM transfers t
	JOIN accounts a ON t.account_from = a.account_id
	JOIN accounts b ON t.account_to = b.account_id
	JOIN users u ON a.user_id = u.user_id
	JOIN users v ON b.user_id = v.user_id`

type Service struct {
	db    *pgxpool.Pool
	cache *Cache
	log   *zap.Logger
}

func NewService(db *pgxpool.Pool, cache *Cache, log *zap.Logger) *Service {
	return &Service{db: db, cache: cache, log: log}
}

// transferRow is a fully decoded history row. The username and ownership
// columns come from joins and are decoded explicitly; a scan failure is an
// error, never silently dropped.
type transferRow struct {
	models.Transfer
	FromUserID int64
	ToUserID   int64
	FromUser   string
	ToUser     string
}

// ListForUser returns every transfer in which the user owns either account,
// in creation order, decorated with the counterparty username and direction.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]models.TransferSummary, error) {
	rows, err := s.db.Query(ctx,
		listQuery+`
		WHERE a.user_id = $1 OR b.user_id = $1
		ORDER BY t.created_at, t.transfer_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrPersistenceFailure, err)
	}
	return s.collect(rows, userID)
}

// ListPendingRequestsForUser returns the Pending Requests where the user is
// the payer, i.e. the items awaiting their approval or rejection.
func (s *Service) ListPendingRequestsForUser(ctx context.Context, userID int64) ([]models.TransferSummary, error) {
	rows, err := s.db.Query(ctx,
		listQuery+`
		WHERE t.transfer_type_id = $1 AND t.transfer_status_id = $2 AND a.user_id = $3
		ORDER BY t.created_at, t.transfer_id`,
		models.TypeRequest, models.StatusPending, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrPersistenceFailure, err)
	}
	return s.collect(rows, userID)
}

// GetDetail returns the resolved view of one transfer. Only a party to the
// transfer may see it. Decided (non-Pending) details are immutable and are
// served from cache when possible.
func (s *Service) GetDetail(ctx context.Context, transferID, requestingUserID int64) (*models.TransferDetail, error) {
	detail, cached := s.cache.GetDetail(ctx, transferID)
	if !cached {
		var err error
		detail, err = s.fetchDetail(ctx, transferID)
		if err != nil {
			return nil, err
		}
		// Pending rows can still change status; only decided rows are safe
		// to cache.
		if detail.StatusID != models.StatusPending {
			s.cache.SetDetail(ctx, detail)
		}
	}

	if requestingUserID != detail.FromUserID && requestingUserID != detail.ToUserID {
		return nil, ledger.ErrForbidden
	}
	return detail, nil
}

func (s *Service) fetchDetail(ctx context.Context, transferID int64) (*models.TransferDetail, error) {
	var d models.TransferDetail
	err := s.db.QueryRow(ctx, `
		SELECT t.transfer_id, t.transfer_type_id, t.transfer_status_id,
		       t.amount, t.created_at,
		       a.user_id, b.user_id, u.username, v.username,
		       tt.transfer_type_desc, ts.transfer_status_desc
		FROM transfers t
		JOIN accounts a ON t.account_from = a.account_id
		JOIN accounts b ON t.account_to = b.account_id
		JOIN users u ON a.user_id = u.user_id
		JOIN users v ON b.user_id = v.user_id
		JOIN transfer_types tt ON t.transfer_type_id = tt.transfer_type_id
		JOIN transfer_statuses ts ON t.transfer_status_id = ts.transfer_status_id
		WHERE t.transfer_id = $1`, transferID).
		Scan(&d.ID, &d.TypeID, &d.StatusID, &d.Amount, &d.CreatedAt,
			&d.FromUserID, &d.ToUserID, &d.FromUser, &d.ToUser, &d.Type, &d.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrTransferNotFound
		}
		return nil, fmt.Errorf("%w: %v", ledger.ErrPersistenceFailure, err)
	}
	return &d, nil
}

func (s *Service) collect(rows pgx.Rows, viewerUserID int64) ([]models.TransferSummary, error) {
	defer rows.Close()

	summaries := []models.TransferSummary{}
	for rows.Next() {
		var r transferRow
		if err := rows.Scan(&r.ID, &r.TypeID, &r.StatusID, &r.AccountFromID, &r.AccountToID,
			&r.Amount, &r.CreatedAt, &r.FromUserID, &r.ToUserID, &r.FromUser, &r.ToUser); err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrPersistenceFailure, err)
		}
		summaries = append(summaries, decorate(r, viewerUserID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrPersistenceFailure, err)
	}
	return summaries, nil
}

// decorate computes the counterparty and direction of a row relative to the
// viewing user.
func decorate(r transferRow, viewerUserID int64) models.TransferSummary {
	s := models.TransferSummary{Transfer: r.Transfer}
	if r.FromUserID == viewerUserID {
		s.Direction = models.DirectionSent
		s.Counterparty = r.ToUser
	} else {
		s.Direction = models.DirectionReceived
		s.Counterparty = r.FromUser
	}
	return s
}
