package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"unievent-ticketing/internal/models"
)

func (q *Queries) InsertUser(ctx context.Context, user *models.User) error {
	_, err := q.db.NewInsert().Model(user).Exec(ctx)
	return translateDBErr(err)
}

func (q *Queries) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := q.db.NewSelect().Model(&user).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, translateDBErr(err))
	}
	return &user, nil
}

func (q *Queries) UserByStudentID(ctx context.Context, studentID string) (*models.User, error) {
	var user models.User
	err := q.db.NewSelect().Model(&user).Where("student_id = ?", studentID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("student %s: %w", studentID, translateDBErr(err))
	}
	return &user, nil
}

func (q *Queries) UsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := q.db.NewSelect().Model(&users).Where("id IN (?)", bun.In(ids)).Scan(ctx)
	return users, translateDBErr(err)
}

func (q *Queries) UserExists(ctx context.Context, id string) (bool, error) {
	exists, err := q.db.NewSelect().Model((*models.User)(nil)).Where("id = ?", id).Exists(ctx)
	return exists, translateDBErr(err)
}

// AddHolding appends a ticket to the user's holdings.
func (q *Queries) AddHolding(ctx context.Context, userID, ticketID string, now time.Time) error {
	_, err := q.db.NewInsert().
		Model(&models.Holding{UserID: userID, TicketID: ticketID, CreatedAt: now}).
		Exec(ctx)
	return translateDBErr(err)
}

// RemoveHolding drops a ticket from the user's holdings. The holding must
// exist.
func (q *Queries) RemoveHolding(ctx context.Context, userID, ticketID string) error {
	res, err := q.db.NewDelete().
		Model((*models.Holding)(nil)).
		Where("user_id = ?", userID).
		Where("ticket_id = ?", ticketID).
		Exec(ctx)
	if err != nil {
		return translateDBErr(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("holding %s/%s: %w", userID, ticketID, ErrNotFound)
	}
	return nil
}

func (q *Queries) HoldingIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := q.db.NewSelect().
		Model((*models.Holding)(nil)).
		Column("ticket_id").
		Where("user_id = ?", userID).
		Order("ticket_id").
		Scan(ctx, &ids)
	return ids, translateDBErr(err)
}
