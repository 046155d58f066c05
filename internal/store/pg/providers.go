package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridelab/stride/internal/domain/repository"
)

// providerRepo implementa repository.ProviderRepository.
type providerRepo struct {
	pool *pgxpool.Pool
}

const providerColumns = `id, slug, name, provider_type, enabled, client_id, client_secret_enc,
	issuer_url, authorize_url, token_url, userinfo_url, jwks_url, scopes,
	auto_create_users, sync_user_info, user_mapping, created_at, updated_at`

func scanProvider(row pgx.Row) (*repository.IdentityProvider, error) {
	var p repository.IdentityProvider
	var mapping []byte
	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &p.Type, &p.Enabled, &p.ClientID, &p.ClientSecretEnc,
		&p.IssuerURL, &p.AuthorizeURL, &p.TokenURL, &p.UserinfoURL, &p.JWKSURL, &p.Scopes,
		&p.AutoCreateUsers, &p.SyncUserInfo, &mapping, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &p.UserMapping); err != nil {
			return nil, fmt.Errorf("decode user_mapping: %w", err)
		}
	}
	return &p, nil
}

func (r *providerRepo) Create(ctx context.Context, p *repository.IdentityProvider) (*repository.IdentityProvider, error) {
	mapping, err := json.Marshal(p.UserMapping)
	if err != nil {
		return nil, fmt.Errorf("encode user_mapping: %w", err)
	}
	query := `
		INSERT INTO identity_providers (
			slug, name, provider_type, enabled, client_id, client_secret_enc,
			issuer_url, authorize_url, token_url, userinfo_url, jwks_url, scopes,
			auto_create_users, sync_user_info, user_mapping, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW())
		RETURNING ` + providerColumns
	out, err := scanProvider(r.pool.QueryRow(ctx, query,
		p.Slug, p.Name, p.Type, p.Enabled, p.ClientID, p.ClientSecretEnc,
		p.IssuerURL, p.AuthorizeURL, p.TokenURL, p.UserinfoURL, p.JWKSURL, p.Scopes,
		p.AutoCreateUsers, p.SyncUserInfo, mapping))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("create provider: %w", err)
	}
	return out, nil
}

func (r *providerRepo) Update(ctx context.Context, p *repository.IdentityProvider) (*repository.IdentityProvider, error) {
	mapping, err := json.Marshal(p.UserMapping)
	if err != nil {
		return nil, fmt.Errorf("encode user_mapping: %w", err)
	}
	query := `
		UPDATE identity_providers SET
			slug = $1, name = $2, provider_type = $3, enabled = $4, client_id = $5,
			client_secret_enc = $6, issuer_url = $7, authorize_url = $8, token_url = $9,
			userinfo_url = $10, jwks_url = $11, scopes = $12, auto_create_users = $13,
			sync_user_info = $14, user_mapping = $15, updated_at = NOW()
		WHERE id = $16
		RETURNING ` + providerColumns
	out, err := scanProvider(r.pool.QueryRow(ctx, query,
		p.Slug, p.Name, p.Type, p.Enabled, p.ClientID,
		p.ClientSecretEnc, p.IssuerURL, p.AuthorizeURL, p.TokenURL,
		p.UserinfoURL, p.JWKSURL, p.Scopes, p.AutoCreateUsers,
		p.SyncUserInfo, mapping, p.ID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	return out, nil
}

func (r *providerRepo) GetByID(ctx context.Context, id int64) (*repository.IdentityProvider, error) {
	return scanProvider(r.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM identity_providers WHERE id = $1`, id))
}

func (r *providerRepo) GetBySlug(ctx context.Context, slug string) (*repository.IdentityProvider, error) {
	return scanProvider(r.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM identity_providers WHERE slug = $1`, slug))
}

func (r *providerRepo) List(ctx context.Context) ([]repository.IdentityProvider, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+providerColumns+` FROM identity_providers ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []repository.IdentityProvider
	for rows.Next() {
		var p repository.IdentityProvider
		var mapping []byte
		if err := rows.Scan(
			&p.ID, &p.Slug, &p.Name, &p.Type, &p.Enabled, &p.ClientID, &p.ClientSecretEnc,
			&p.IssuerURL, &p.AuthorizeURL, &p.TokenURL, &p.UserinfoURL, &p.JWKSURL, &p.Scopes,
			&p.AutoCreateUsers, &p.SyncUserInfo, &mapping, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		if len(mapping) > 0 {
			if err := json.Unmarshal(mapping, &p.UserMapping); err != nil {
				return nil, fmt.Errorf("decode user_mapping: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete rechaza con ErrConflict si hay links hacia el provider.
func (r *providerRepo) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete provider: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var links int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_identities WHERE provider_id = $1`, id).Scan(&links); err != nil {
		return fmt.Errorf("delete provider: count links: %w", err)
	}
	if links > 0 {
		return repository.ErrConflict
	}
	tag, err := tx.Exec(ctx, `DELETE FROM identity_providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}
