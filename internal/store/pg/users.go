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

// userRepo implementa repository.UserRepository.
type userRepo struct {
	pool *pgxpool.Pool
}

const userColumns = `id, username, email, password_hash, mfa_enabled, mfa_secret_enc,
	totp_last_used_at, active, approved, created_at, updated_at`

func scanUser(row pgx.Row) (*repository.User, error) {
	var u repository.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.MFAEnabled, &u.MFASecretEnc,
		&u.TOTPLastUsedAt, &u.Active, &u.Approved, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, input repository.CreateUserInput) (*repository.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, active, approved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, query,
		input.Username, input.Email, input.PasswordHash, input.Active, input.Approved))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *userRepo) SetPasswordHash(ctx context.Context, id int64, phc string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, phc, id)
}

func (r *userRepo) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, `UPDATE users SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
}

func (r *userRepo) EnableMFA(ctx context.Context, id int64, secretEnc string) error {
	return r.exec(ctx, `
		UPDATE users SET mfa_enabled = TRUE, mfa_secret_enc = $1, totp_last_used_at = NULL, updated_at = NOW()
		WHERE id = $2`, secretEnc, id)
}

func (r *userRepo) DisableMFA(ctx context.Context, id int64) error {
	return r.exec(ctx, `
		UPDATE users SET mfa_enabled = FALSE, mfa_secret_enc = '', totp_last_used_at = NULL, updated_at = NOW()
		WHERE id = $1`, id)
}

func (r *userRepo) SetTOTPLastUsed(ctx context.Context, id int64, usedAt time.Time) error {
	return r.exec(ctx, `UPDATE users SET totp_last_used_at = $1 WHERE id = $2`, usedAt, id)
}

// exec aplica un UPDATE que debe afectar exactamente una fila.
func (r *userRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
