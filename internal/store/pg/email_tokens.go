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

// emailTokenRepo implementa repository.EmailTokenRepository.
type emailTokenRepo struct {
	pool *pgxpool.Pool
}

func (r *emailTokenRepo) Create(ctx context.Context, userID int64, purpose repository.EmailTokenPurpose, tokenHash string, expiresAt time.Time) (*repository.EmailToken, error) {
	var t repository.EmailToken
	err := r.pool.QueryRow(ctx, `
		INSERT INTO email_tokens (user_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, purpose, token_hash, expires_at, used_at, created_at`,
		userID, purpose, tokenHash, expiresAt,
	).Scan(&t.ID, &t.UserID, &t.Purpose, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create email token: %w", err)
	}
	return &t, nil
}

// Consume marca used_at en el mismo UPDATE que resuelve el token: un token
// solo puede consumirse una vez.
func (r *emailTokenRepo) Consume(ctx context.Context, purpose repository.EmailTokenPurpose, tokenHash string, now time.Time) (*repository.EmailToken, error) {
	var t repository.EmailToken
	err := r.pool.QueryRow(ctx, `
		UPDATE email_tokens SET used_at = $1
		WHERE purpose = $2 AND token_hash = $3 AND used_at IS NULL AND expires_at > $1
		RETURNING id, user_id, purpose, token_hash, expires_at, used_at, created_at`,
		now, purpose, tokenHash,
	).Scan(&t.ID, &t.UserID, &t.Purpose, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume email token: %w", err)
	}
	return &t, nil
}

func (r *emailTokenRepo) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM email_tokens WHERE expires_at < NOW() OR used_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete expired email tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
