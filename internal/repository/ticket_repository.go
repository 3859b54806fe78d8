package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketFilter captures list parameters used by the API and operations CLI.
type TicketFilter struct {
	UserID        *string
	Statuses      []domain.TicketStatus
	Priorities    []domain.TicketPriority
	Categories    []domain.TicketCategory
	Processed     *bool
	CreatedBefore *time.Time
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
}

// TicketStats summarises analysis outcomes over a window.
type TicketStats struct {
	Total     int
	Processed int
	Pending   int
	ByStatus  map[domain.TicketStatus]int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update writes mutable fields guarded by ticket.Version and bumps the version.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// SaveAnalysis stores the result only while agent_processed is false.
	// It reports whether this call won the compare-and-set.
	SaveAnalysis(ctx context.Context, id string, result *domain.AnalysisResult) (bool, error)
	ResetAnalysis(ctx context.Context, id string) error
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Stats(ctx context.Context, since time.Time) (TicketStats, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, external_key, user_id, issue_type, description, category, status, priority,
               assigned_to, assigned_team, tags, screenshot_url, agent_response, agent_processed,
               decision_job_id, resolution_summary, version, created_at, updated_at, resolved_at, escalated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, external_key, user_id, issue_type, description, category, status, priority, tags, screenshot_url)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING version, created_at, updated_at`
	if ticket.Tags == nil {
		ticket.Tags = []string{}
	}
	return r.pool.QueryRow(ctx, query,
		ticket.ID,
		ticket.ExternalKey,
		ticket.UserID,
		ticket.IssueType,
		ticket.Description,
		ticket.Category,
		ticket.Status,
		ticket.Priority,
		ticket.Tags,
		ticket.ScreenshotURL,
	).Scan(&ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, priority=$2, assigned_to=$3, assigned_team=$4, tags=$5,
            decision_job_id=$6, resolution_summary=$7, resolved_at=$8, escalated_at=$9,
            version=version+1, updated_at=NOW()
        WHERE id=$10 AND version=$11
        RETURNING version, updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.Status,
		ticket.Priority,
		ticket.AssignedTo,
		ticket.AssignedTeam,
		ticket.Tags,
		ticket.DecisionJobID,
		ticket.ResolutionSummary,
		ticket.ResolvedAt,
		ticket.EscalatedAt,
		ticket.ID,
		ticket.Version,
	).Scan(&ticket.Version, &ticket.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) SaveAnalysis(ctx context.Context, id string, result *domain.AnalysisResult) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("encode analysis: %w", err)
	}
	const query = `
        UPDATE tickets SET agent_response=$1, agent_processed=TRUE, version=version+1, updated_at=NOW()
        WHERE id=$2 AND agent_processed=FALSE`
	cmd, err := r.pool.Exec(ctx, query, payload, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) ResetAnalysis(ctx context.Context, id string) error {
	const query = `
        UPDATE tickets SET agent_response=NULL, agent_processed=FALSE, decision_job_id=NULL,
            version=version+1, updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Categories) > 0 {
		placeholders := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			args = append(args, c)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("category IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Processed != nil {
		args = append(args, *filter.Processed)
		clauses = append(clauses, fmt.Sprintf("agent_processed=$%d", len(args)))
	}
	if filter.CreatedBefore != nil {
		args = append(args, *filter.CreatedBefore)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if filter.UpdatedBefore != nil {
		args = append(args, *filter.UpdatedBefore)
		clauses = append(clauses, fmt.Sprintf("updated_at < $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at ASC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) Stats(ctx context.Context, since time.Time) (TicketStats, error) {
	const query = `
        SELECT status, agent_processed, COUNT(*)
        FROM tickets WHERE created_at >= $1
        GROUP BY status, agent_processed`
	stats := TicketStats{ByStatus: map[domain.TicketStatus]int{}}
	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status    domain.TicketStatus
			processed bool
			count     int
		)
		if err := rows.Scan(&status, &processed, &count); err != nil {
			return stats, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		if processed {
			stats.Processed += count
		} else {
			stats.Pending += count
		}
	}
	return stats, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket   domain.Ticket
		analysis []byte
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.UserID,
		&ticket.IssueType,
		&ticket.Description,
		&ticket.Category,
		&ticket.Status,
		&ticket.Priority,
		&ticket.AssignedTo,
		&ticket.AssignedTeam,
		&ticket.Tags,
		&ticket.ScreenshotURL,
		&analysis,
		&ticket.AgentProcessed,
		&ticket.DecisionJobID,
		&ticket.ResolutionSummary,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
		&ticket.EscalatedAt,
	); err != nil {
		return nil, err
	}
	if len(analysis) > 0 {
		var result domain.AnalysisResult
		if err := json.Unmarshal(analysis, &result); err != nil {
			return nil, fmt.Errorf("decode analysis for ticket %s: %w", ticket.ID, err)
		}
		ticket.AgentResponse = &result
	}
	return &ticket, nil
}
