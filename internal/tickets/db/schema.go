package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"unievent-ticketing/internal/models"
)

// CreateSchema builds the tables straight from the bun models. Deployed
// databases are migrated from the SQL files under migrations/ instead.
func CreateSchema(ctx context.Context, idb bun.IDB) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.EventStaff)(nil),
		(*models.Ticket)(nil),
		(*models.Holding)(nil),
		(*models.TransferRequest)(nil),
	}
	for _, model := range tables {
		if _, err := idb.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	// At most one pending transfer per ticket.
	_, err := idb.NewCreateIndex().
		Model((*models.TransferRequest)(nil)).
		Index("transfer_requests_one_pending_idx").
		Unique().
		IfNotExists().
		Column("ticket_id").
		Where("status = 'pending'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create pending transfer index: %w", err)
	}

	indexes := []struct {
		model  interface{}
		name   string
		column string
	}{
		{(*models.Ticket)(nil), "tickets_event_id_idx", "event_id"},
		{(*models.Ticket)(nil), "tickets_buyer_id_idx", "buyer_id"},
		{(*models.TransferRequest)(nil), "transfer_requests_to_user_idx", "to_user_id"},
	}
	for _, idx := range indexes {
		_, err := idb.NewCreateIndex().Model(idx.model).Index(idx.name).IfNotExists().Column(idx.column).Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
