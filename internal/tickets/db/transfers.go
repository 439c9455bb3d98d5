package db

import (
	"context"
	"fmt"
	"time"

	"unievent-ticketing/internal/models"
)

// InsertTransfer fails with ErrConflict when the ticket already has a
// pending request.
func (q *Queries) InsertTransfer(ctx context.Context, tr *models.TransferRequest) error {
	_, err := q.db.NewInsert().Model(tr).Exec(ctx)
	return translateDBErr(err)
}

// PendingTransfer returns the pending request for ticketID. When toUserID is
// non-empty the request must also be addressed to that user.
func (q *Queries) PendingTransfer(ctx context.Context, ticketID, toUserID string) (*models.TransferRequest, error) {
	var tr models.TransferRequest
	query := q.db.NewSelect().
		Model(&tr).
		Where("ticket_id = ?", ticketID).
		Where("status = ?", models.TransferPending)
	if toUserID != "" {
		query = query.Where("to_user_id = ?", toUserID)
	}
	if err := query.Limit(1).Scan(ctx); err != nil {
		return nil, fmt.Errorf("pending transfer for ticket %s: %w", ticketID, translateDBErr(err))
	}
	return &tr, nil
}

// CloseTransfer moves a pending request to a terminal status.
func (q *Queries) CloseTransfer(ctx context.Context, id string, to models.TransferStatus, now time.Time) error {
	if !models.TransferPending.CanTransitionTo(to) {
		return fmt.Errorf("%w: transfer pending -> %s", models.ErrInvalidTransition, to)
	}

	res, err := q.db.NewUpdate().
		Model((*models.TransferRequest)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.TransferPending).
		Exec(ctx)
	if err != nil {
		return translateDBErr(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("transfer %s is no longer pending: %w", id, ErrRetryable)
	}
	return nil
}

// CancelPendingTransfers closes any pending request on the ticket and
// returns how many were closed.
func (q *Queries) CancelPendingTransfers(ctx context.Context, ticketID string, now time.Time) (int64, error) {
	res, err := q.db.NewUpdate().
		Model((*models.TransferRequest)(nil)).
		Set("status = ?", models.TransferCancelled).
		Set("updated_at = ?", now).
		Where("ticket_id = ?", ticketID).
		Where("status = ?", models.TransferPending).
		Exec(ctx)
	if err != nil {
		return 0, translateDBErr(err)
	}
	return rowsAffected(res)
}

// IncomingTransfers lists pending requests addressed to userID, newest first.
func (q *Queries) IncomingTransfers(ctx context.Context, userID string) ([]models.TransferRequest, error) {
	var transfers []models.TransferRequest
	err := q.db.NewSelect().
		Model(&transfers).
		Where("to_user_id = ?", userID).
		Where("status = ?", models.TransferPending).
		OrderExpr("created_at DESC").
		Scan(ctx)
	return transfers, translateDBErr(err)
}
