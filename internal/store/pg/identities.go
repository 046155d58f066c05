package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridelab/stride/internal/domain/repository"
)

// identityRepo implementa repository.IdentityRepository.
type identityRepo struct {
	pool *pgxpool.Pool
}

const linkColumns = `user_id, provider_id, subject, linked_at, last_login,
	refresh_token_enc, access_token_expires_at`

func scanLink(row pgx.Row) (*repository.IdentityLink, error) {
	var l repository.IdentityLink
	err := row.Scan(
		&l.UserID, &l.ProviderID, &l.Subject, &l.LinkedAt, &l.LastLogin,
		&l.RefreshTokenEnc, &l.AccessTokenExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity link: %w", err)
	}
	return &l, nil
}

func (r *identityRepo) Create(ctx context.Context, link *repository.IdentityLink) (*repository.IdentityLink, error) {
	query := `
		INSERT INTO user_identities (user_id, provider_id, subject, linked_at, last_login, refresh_token_enc, access_token_expires_at)
		VALUES ($1, $2, $3, NOW(), $4, $5, $6)
		RETURNING ` + linkColumns
	out, err := scanLink(r.pool.QueryRow(ctx, query,
		link.UserID, link.ProviderID, link.Subject, link.LastLogin,
		link.RefreshTokenEnc, link.AccessTokenExpiresAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// (provider, subject) ya reclamado, o (user, provider) ya linkeado
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("create identity link: %w", err)
	}
	return out, nil
}

func (r *identityRepo) GetBySubject(ctx context.Context, providerID int64, subject string) (*repository.IdentityLink, error) {
	return scanLink(r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+` FROM user_identities
		WHERE provider_id = $1 AND subject = $2`, providerID, subject))
}

func (r *identityRepo) GetByUserAndProvider(ctx context.Context, userID, providerID int64) (*repository.IdentityLink, error) {
	return scanLink(r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+` FROM user_identities
		WHERE user_id = $1 AND provider_id = $2`, userID, providerID))
}

func (r *identityRepo) ListByUser(ctx context.Context, userID int64) ([]repository.IdentityLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+linkColumns+` FROM user_identities
		WHERE user_id = $1 ORDER BY linked_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list identity links: %w", err)
	}
	defer rows.Close()

	var links []repository.IdentityLink
	for rows.Next() {
		var l repository.IdentityLink
		if err := rows.Scan(
			&l.UserID, &l.ProviderID, &l.Subject, &l.LinkedAt, &l.LastLogin,
			&l.RefreshTokenEnc, &l.AccessTokenExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan identity link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *identityRepo) Touch(ctx context.Context, providerID int64, subject string, lastLogin time.Time, refreshTokenEnc *string, accessExp *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_identities
		SET last_login = $1,
		    refresh_token_enc = COALESCE($2, refresh_token_enc),
		    access_token_expires_at = COALESCE($3, access_token_expires_at)
		WHERE provider_id = $4 AND subject = $5`,
		lastLogin, refreshTokenEnc, accessExp, providerID, subject)
	if err != nil {
		return fmt.Errorf("touch identity link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) Delete(ctx context.Context, userID, providerID int64) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM user_identities WHERE user_id = $1 AND provider_id = $2`, userID, providerID)
	if err != nil {
		return fmt.Errorf("delete identity link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) CountByProvider(ctx context.Context, providerID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_identities WHERE provider_id = $1`, providerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identity links: %w", err)
	}
	return n, nil
}
