package repository

import (
	"context"
	"time"
)

// EmailTokenPurpose distingue los flujos fuera de banda.
type EmailTokenPurpose string

const (
	PurposeSignup        EmailTokenPurpose = "signup"
	PurposePasswordReset EmailTokenPurpose = "password_reset"
)

// EmailToken es un token de un solo uso enviado por mail (confirmación de
// registro, reset de contraseña). Se guarda hasheado, nunca el valor crudo.
type EmailToken struct {
	ID        int64
	UserID    int64
	Purpose   EmailTokenPurpose
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// EmailTokenRepository persiste tokens de mail.
type EmailTokenRepository interface {
	Create(ctx context.Context, userID int64, purpose EmailTokenPurpose, tokenHash string, expiresAt time.Time) (*EmailToken, error)

	// Consume marca el token como usado en el mismo paso que lo resuelve.
	// ErrNotFound si no existe, ya fue usado o está vencido.
	Consume(ctx context.Context, purpose EmailTokenPurpose, tokenHash string, now time.Time) (*EmailToken, error)

	DeleteExpired(ctx context.Context) (int, error)
}
