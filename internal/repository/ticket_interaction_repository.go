package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketInteractionRepository appends to and reads the ticket audit trail.
type TicketInteractionRepository interface {
	// Create inserts the interaction unless one with the same dedup key exists.
	// It reports whether a row was written.
	Create(ctx context.Context, in *domain.TicketInteraction) (bool, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketInteraction, error)
}

type ticketInteractionRepository struct {
	pool *pgxpool.Pool
}

// NewTicketInteractionRepository builds repository.
func NewTicketInteractionRepository(pool *pgxpool.Pool) TicketInteractionRepository {
	return &ticketInteractionRepository{pool: pool}
}

func (r *ticketInteractionRepository) Create(ctx context.Context, in *domain.TicketInteraction) (bool, error) {
	const query = `
        INSERT INTO ticket_interactions (id, ticket_id, user_id, kind, content, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (dedup_key) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query,
		in.ID,
		in.TicketID,
		in.UserID,
		in.Kind,
		in.Content,
		in.DedupKey,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketInteractionRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketInteraction, error) {
	const query = `
        SELECT id, ticket_id, user_id, kind, content, dedup_key, created_at
        FROM ticket_interactions WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketInteraction
	for rows.Next() {
		var in domain.TicketInteraction
		if err := rows.Scan(
			&in.ID,
			&in.TicketID,
			&in.UserID,
			&in.Kind,
			&in.Content,
			&in.DedupKey,
			&in.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}
