package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// UserRepository defines persistence access for the user directory.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, uid string) (*domain.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	AdjustWorkload(ctx context.Context, uid string, activeDelta, resolvedDelta int) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `uid, username, custom_uid, role, active, active_tickets, total_resolved, created_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (uid, username, custom_uid, role, active)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		user.UID,
		user.Username,
		user.CustomUID,
		user.Role,
		user.Active,
	).Scan(&user.CreatedAt)
}

func (r *userRepository) GetByID(ctx context.Context, uid string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE uid=$1`

	var user domain.User
	if err := r.pool.QueryRow(ctx, query, uid).Scan(
		&user.UID,
		&user.Username,
		&user.CustomUID,
		&user.Role,
		&user.Active,
		&user.ActiveTickets,
		&user.TotalResolved,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role=$1 AND active`

	rows, err := r.pool.Query(ctx, query, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(
			&user.UID,
			&user.Username,
			&user.CustomUID,
			&user.Role,
			&user.Active,
			&user.ActiveTickets,
			&user.TotalResolved,
			&user.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// AdjustWorkload moves the assignment counters; active_tickets never goes
// below zero.
func (r *userRepository) AdjustWorkload(ctx context.Context, uid string, activeDelta, resolvedDelta int) error {
	const query = `
        UPDATE users SET
            active_tickets = GREATEST(active_tickets + $1, 0),
            total_resolved = total_resolved + $2
        WHERE uid=$3`

	cmd, err := r.pool.Exec(ctx, query, activeDelta, resolvedDelta, uid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
