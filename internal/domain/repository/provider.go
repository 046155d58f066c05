package repository

import (
	"context"
	"time"
)

// ProviderType distingue el protocolo del IdP externo.
type ProviderType string

const (
	ProviderTypeOIDC   ProviderType = "oidc"
	ProviderTypeOAuth2 ProviderType = "oauth2"
)

// IdentityProvider es un IdP externo configurado por administradores.
// El client secret se guarda cifrado por secretbox.
type IdentityProvider struct {
	ID              int64
	Slug            string // único, URL-safe
	Name            string
	Type            ProviderType
	Enabled         bool
	ClientID        string
	ClientSecretEnc string
	IssuerURL       string
	AuthorizeURL    string
	TokenURL        string
	UserinfoURL     string
	JWKSURL         string
	Scopes          []string
	AutoCreateUsers bool
	SyncUserInfo    bool
	// UserMapping: campo local -> lista ordenada de claims candidatos;
	// gana el primero presente. Evaluación explícita, sin reflection.
	UserMapping map[string][]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProviderRepository persiste la configuración de IdPs.
type ProviderRepository interface {
	Create(ctx context.Context, p *IdentityProvider) (*IdentityProvider, error)
	Update(ctx context.Context, p *IdentityProvider) (*IdentityProvider, error)
	GetByID(ctx context.Context, id int64) (*IdentityProvider, error)
	GetBySlug(ctx context.Context, slug string) (*IdentityProvider, error)
	List(ctx context.Context) ([]IdentityProvider, error)

	// Delete rechaza con ErrConflict si existen links de usuarios hacia el
	// provider, para no dejar cuentas federadas huérfanas.
	Delete(ctx context.Context, id int64) error
}
