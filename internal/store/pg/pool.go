// Package pg implementa los repositorios del core sobre PostgreSQL (pgx).
// La seguridad de concurrencia de sesiones viene de las garantías
// transaccionales y de row-locking de la base.
package pg

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	migrations "github.com/stridelab/stride/migrations/postgres"
)

// Store agrupa los repos pg sobre un pool compartido.
type Store struct {
	Pool *pgxpool.Pool

	Users       *userRepo
	Sessions    *sessionRepo
	Providers   *providerRepo
	Identities  *identityRepo
	EmailTokens *emailTokenRepo
}

// New conecta el pool y arma los repos.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{
		Pool:        pool,
		Users:       &userRepo{pool: pool},
		Sessions:    &sessionRepo{pool: pool},
		Providers:   &providerRepo{pool: pool},
		Identities:  &identityRepo{pool: pool},
		EmailTokens: &emailTokenRepo{pool: pool},
	}, nil
}

// Migrate aplica las migraciones embebidas en orden lexicográfico.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("pg: read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("pg: read %s: %w", name, err)
		}
		if _, err := s.Pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("pg: apply %s: %w", name, err)
		}
	}
	return nil
}

// Close cierra el pool.
func (s *Store) Close() { s.Pool.Close() }

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
