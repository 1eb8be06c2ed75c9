package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	NextCode(ctx context.Context) (string, error)
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByCode(ctx context.Context, code string) (*domain.Ticket, error)
	GetByIdempotencyKey(ctx context.Context, creatorUID, key string) (*domain.Ticket, error)
	ListAll(ctx context.Context) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, code, title, description, category, priority, status,
        created_by, assigned_to, resolved_by, contact, github, rating, feedback,
        labels, reopen_count, version, sla_deadline, timeline, transfer_history,
        idempotency_key, created_at, updated_at, resolved_at, closed_at, feedback_at`

// NextCode allocates the next sequential ticket code.
func (r *ticketRepository) NextCode(ctx context.Context) (string, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('ticket_code_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("T%09d", seq), nil
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	timeline, err := json.Marshal(ticket.Timeline)
	if err != nil {
		return err
	}
	transfers, err := json.Marshal(ticket.TransferHistory)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO tickets (id, code, title, description, category, priority, status,
            created_by, assigned_to, contact, github, labels, version, sla_deadline,
            timeline, transfer_history, idempotency_key, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)`
	_, err = r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.Code,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.CreatedBy,
		ticket.AssignedTo,
		ticket.Contact,
		ticket.Github,
		ticket.Labels,
		ticket.Version,
		ticket.SLADeadline,
		timeline,
		transfers,
		ticket.IdempotencyKey,
		ticket.CreatedAt,
	)
	return err
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	timeline, err := json.Marshal(ticket.Timeline)
	if err != nil {
		return err
	}
	transfers, err := json.Marshal(ticket.TransferHistory)
	if err != nil {
		return err
	}
	const query = `
        UPDATE tickets SET priority=$1, status=$2, assigned_to=$3, resolved_by=$4,
            contact=$5, github=$6, rating=$7, feedback=$8, labels=$9, reopen_count=$10,
            version=$11, timeline=$12, transfer_history=$13, updated_at=$14,
            resolved_at=$15, closed_at=$16, feedback_at=$17
        WHERE id=$18`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Priority,
		ticket.Status,
		ticket.AssignedTo,
		ticket.ResolvedBy,
		ticket.Contact,
		ticket.Github,
		ticket.Rating,
		ticket.Feedback,
		ticket.Labels,
		ticket.ReopenCount,
		ticket.Version,
		timeline,
		transfers,
		ticket.UpdatedAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.FeedbackAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByCode(ctx context.Context, code string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE code=$1`
	return r.fetchSingle(ctx, query, code)
}

func (r *ticketRepository) GetByIdempotencyKey(ctx context.Context, creatorUID, key string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE created_by=$1 AND idempotency_key=$2`
	var ticket domain.Ticket
	if err := r.scanTicket(r.pool.QueryRow(ctx, query, creatorUID, key), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := r.scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.scanTicket(r.pool.QueryRow(ctx, query, arg), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	var (
		timeline  []byte
		transfers []byte
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Code,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.ResolvedBy,
		&ticket.Contact,
		&ticket.Github,
		&ticket.Rating,
		&ticket.Feedback,
		&ticket.Labels,
		&ticket.ReopenCount,
		&ticket.Version,
		&ticket.SLADeadline,
		&timeline,
		&transfers,
		&ticket.IdempotencyKey,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&ticket.FeedbackAt,
	); err != nil {
		return err
	}
	if err := json.Unmarshal(timeline, &ticket.Timeline); err != nil {
		return err
	}
	return json.Unmarshal(transfers, &ticket.TransferHistory)
}
