package repository

import (
	"context"
	"time"
)

// Session es una fila por linaje de refresh token vivo. Nunca guarda el
// refresh crudo: solo su sha256 (base64url).
type Session struct {
	ID               string // opaco, uuid v4
	UserID           int64
	RefreshTokenHash string
	IPAddress        *string
	UserAgent        *string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
}

// CreateSessionInput es el input de alta de sesión en login/SSO.
type CreateSessionInput struct {
	ID               string
	UserID           int64
	RefreshTokenHash string
	IPAddress        string
	UserAgent        string
	ExpiresAt        time.Time
}

// SessionRepository persiste sesiones de refresh.
type SessionRepository interface {
	Create(ctx context.Context, input CreateSessionInput) (*Session, error)
	GetByID(ctx context.Context, id string) (*Session, error)

	// Rotate busca la sesión viva cuyo hash coincida y, en el mismo paso
	// atómico, instala el hash y expiración nuevos. Retorna ErrNotFound si el
	// hash no corresponde a ninguna sesión viva (token desconocido, rotado,
	// revocado o vencido): el caller trata ese caso como señal de reuso.
	// Nunca debe existir un instante donde ambos hashes sean válidos.
	Rotate(ctx context.Context, oldHash, newHash string, newExpiresAt time.Time) (*Session, error)

	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID int64) (int, error)
	ListByUser(ctx context.Context, userID int64) ([]Session, error)

	// DeleteExpired purga sesiones vencidas o revocadas (sweep periódico).
	DeleteExpired(ctx context.Context) (int, error)
}
