package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// SolutionRepository stores at most one solution per ticket.
type SolutionRepository interface {
	// Upsert creates the ticket's solution or updates the existing one in place.
	Upsert(ctx context.Context, sol *domain.Solution) error
	GetByTicket(ctx context.Context, ticketID string) (*domain.Solution, error)
}

type solutionRepository struct {
	pool *pgxpool.Pool
}

// NewSolutionRepository builds repository.
func NewSolutionRepository(pool *pgxpool.Pool) SolutionRepository {
	return &solutionRepository{pool: pool}
}

func (r *solutionRepository) Upsert(ctx context.Context, sol *domain.Solution) error {
	const query = `
        INSERT INTO solutions (id, ticket_id, steps, worked, confidence_score, created_by)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (ticket_id) DO UPDATE
            SET steps=EXCLUDED.steps, worked=EXCLUDED.worked,
                confidence_score=EXCLUDED.confidence_score, updated_at=NOW()
        RETURNING id, created_at, updated_at`
	if sol.Steps == nil {
		sol.Steps = []string{}
	}
	return r.pool.QueryRow(ctx, query,
		sol.ID,
		sol.TicketID,
		sol.Steps,
		sol.Worked,
		sol.ConfidenceScore,
		sol.CreatedBy,
	).Scan(&sol.ID, &sol.CreatedAt, &sol.UpdatedAt)
}

func (r *solutionRepository) GetByTicket(ctx context.Context, ticketID string) (*domain.Solution, error) {
	const query = `
        SELECT id, ticket_id, steps, worked, confidence_score, created_by, verified_by,
               verification_date, created_at, updated_at
        FROM solutions WHERE ticket_id=$1`
	var sol domain.Solution
	if err := r.pool.QueryRow(ctx, query, ticketID).Scan(
		&sol.ID,
		&sol.TicketID,
		&sol.Steps,
		&sol.Worked,
		&sol.ConfidenceScore,
		&sol.CreatedBy,
		&sol.VerifiedBy,
		&sol.VerificationDate,
		&sol.CreatedAt,
		&sol.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sol, nil
}
