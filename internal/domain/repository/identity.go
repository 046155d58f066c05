package repository

import (
	"context"
	"time"
)

// IdentityLink vincula un usuario local con un subject de un IdP externo.
// El par (ProviderID, Subject) es único global: es la identidad federada.
type IdentityLink struct {
	UserID               int64
	ProviderID           int64
	Subject              string
	LinkedAt             time.Time
	LastLogin            *time.Time
	RefreshTokenEnc      *string // refresh token del IdP, cifrado
	AccessTokenExpiresAt *time.Time
}

// IdentityRepository persiste los links de federación.
type IdentityRepository interface {
	// Create retorna ErrConflict si (provider, subject) ya pertenece a otro
	// usuario, o si (user, provider) ya está linkeado.
	Create(ctx context.Context, link *IdentityLink) (*IdentityLink, error)

	GetBySubject(ctx context.Context, providerID int64, subject string) (*IdentityLink, error)
	GetByUserAndProvider(ctx context.Context, userID, providerID int64) (*IdentityLink, error)
	ListByUser(ctx context.Context, userID int64) ([]IdentityLink, error)

	// Touch actualiza last_login y opcionalmente los tokens del IdP.
	Touch(ctx context.Context, providerID int64, subject string, lastLogin time.Time, refreshTokenEnc *string, accessExp *time.Time) error

	Delete(ctx context.Context, userID, providerID int64) error

	// CountByProvider soporta el rechazo de borrado de providers linkeados.
	CountByProvider(ctx context.Context, providerID int64) (int, error)
}
