package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridelab/stride/internal/domain/repository"
)

// sessionRepo implementa repository.SessionRepository.
type sessionRepo struct {
	pool *pgxpool.Pool
}

const sessionColumns = `id, user_id, refresh_token_hash, ip_address::text, user_agent,
	created_at, expires_at, revoked_at`

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.RefreshTokenHash, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.ExpiresAt, &s.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token_hash, ip_address, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4::inet, $5, NOW(), $6)
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, query,
		input.ID, input.UserID, input.RefreshTokenHash,
		nullIfEmpty(input.IPAddress), nullIfEmpty(input.UserAgent), input.ExpiresAt))
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*repository.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// Rotate instala el hash nuevo en un único UPDATE condicionado a que la
// sesión siga viva. El write-lock de fila garantiza que dos presentadores
// concurrentes del mismo token no roten ambos: el segundo ve cero filas y
// cae en el camino de reuso.
func (r *sessionRepo) Rotate(ctx context.Context, oldHash, newHash string, newExpiresAt time.Time) (*repository.Session, error) {
	query := `
		UPDATE sessions
		SET refresh_token_hash = $1, expires_at = $2
		WHERE refresh_token_hash = $3 AND revoked_at IS NULL AND expires_at > NOW()
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, query, newHash, newExpiresAt, oldHash))
}

func (r *sessionRepo) Revoke(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *sessionRepo) RevokeAllByUser(ctx context.Context, userID int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all by user: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID int64) ([]repository.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []repository.Session
	for rows.Next() {
		var s repository.Session
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.RefreshTokenHash, &s.IPAddress, &s.UserAgent,
			&s.CreatedAt, &s.ExpiresAt, &s.RevokedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *sessionRepo) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW() OR revoked_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
