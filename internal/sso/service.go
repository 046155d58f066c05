// Package sso implementa login y vinculación federada contra IdPs externos
// (OIDC / OAuth2) configurados en la base. El flujo es authorization-code
// clásico; el parámetro state viaja firmado y es de un solo uso.
package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/auth"
	"github.com/stridelab/stride/internal/domain/repository"
	"github.com/stridelab/stride/internal/jwt"
	"github.com/stridelab/stride/internal/security/secretbox"
)

var (
	ErrProviderNotFound = errors.New("sso: provider not found")
	ErrProviderDisabled = errors.New("sso: provider disabled")
	// ErrNotLinked: identidad desconocida y el provider no auto-crea cuentas.
	ErrNotLinked = errors.New("sso: identity not linked to any account")
	// ErrEmailTaken: existe una cuenta local con ese mail pero sin link. No
	// se auto-vincula: el dueño debe loguearse y vincular explícitamente.
	ErrEmailTaken = errors.New("sso: email belongs to an unlinked account")
	// ErrSubjectTaken: la identidad ya pertenece a otro usuario.
	ErrSubjectTaken  = errors.New("sso: identity already linked to another account")
	ErrAlreadyLinked = errors.New("sso: user already linked to this provider")
	// ErrLastAuthMethod: desvincular dejaría la cuenta sin forma de entrar.
	ErrLastAuthMethod = errors.New("sso: cannot remove last authentication method")
)

// CallbackResult es lo que produce un callback exitoso.
type CallbackResult struct {
	Mode     Mode
	Login    *auth.LoginResult // solo en modo login
	UserID   int64
	Redirect string
}

// Service orquesta el ciclo federado completo.
type Service struct {
	providers  repository.ProviderRepository
	identities repository.IdentityRepository
	users      repository.UserRepository
	auth       *auth.Service
	box        *secretbox.Box
	states     *stateSigner
	client     *client
	// callbackBase es la URL pública del server; el redirect_uri registrado
	// en cada IdP es callbackBase + /v1/idp/callback/{slug}.
	callbackBase string
	log          *zap.Logger
}

func NewService(providers repository.ProviderRepository, identities repository.IdentityRepository, users repository.UserRepository, authSvc *auth.Service, box *secretbox.Box, tokens *jwt.Manager, callbackBase string, log *zap.Logger) *Service {
	return &Service{
		providers:    providers,
		identities:   identities,
		users:        users,
		auth:         authSvc,
		box:          box,
		states:       newStateSigner(tokens),
		client:       newClient(),
		callbackBase: strings.TrimRight(callbackBase, "/"),
		log:          log,
	}
}

// Providers expone el repositorio de IdPs para la capa admin.
func (s *Service) Providers() repository.ProviderRepository { return s.providers }

// EncryptSecret cifra un client secret para guardarlo en la configuración
// de un provider.
func (s *Service) EncryptSecret(secret string) (string, error) {
	return s.box.Encrypt(secret)
}

func (s *Service) redirectURI(slug string) string {
	return s.callbackBase + "/v1/idp/callback/" + slug
}

func (s *Service) provider(ctx context.Context, slug string) (*repository.IdentityProvider, error) {
	p, err := s.providers.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	if !p.Enabled {
		return nil, ErrProviderDisabled
	}
	return p, nil
}

// InitiateLogin arma la URL de autorización para un login federado.
func (s *Service) InitiateLogin(ctx context.Context, slug, redirect string) (string, error) {
	p, err := s.provider(ctx, slug)
	if err != nil {
		return "", err
	}
	return s.initiate(p, State{Mode: ModeLogin, Slug: slug, Redirect: redirect})
}

// InitiateLink idem para vincular el IdP a una cuenta ya autenticada. El
// conflicto se corta acá: si el usuario ya tiene link con este provider no
// tiene sentido pasearlo por el IdP para fallar a la vuelta.
func (s *Service) InitiateLink(ctx context.Context, slug string, userID int64, redirect string) (string, error) {
	p, err := s.provider(ctx, slug)
	if err != nil {
		return "", err
	}
	if _, err := s.identities.GetByUserAndProvider(ctx, userID, p.ID); err == nil {
		return "", ErrAlreadyLinked
	} else if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	return s.initiate(p, State{Mode: ModeLink, Slug: slug, UserID: userID, Redirect: redirect})
}

func (s *Service) initiate(p *repository.IdentityProvider, st State) (string, error) {
	signed, err := s.states.Sign(st)
	if err != nil {
		return "", err
	}
	return s.client.AuthorizeURL(p, s.redirectURI(p.Slug), signed)
}

// HandleCallback procesa la vuelta del IdP: valida y consume el state,
// canjea el code, trae el perfil y resuelve login o link según el modo.
func (s *Service) HandleCallback(ctx context.Context, slug, code, rawState string, meta auth.RequestMeta) (*CallbackResult, error) {
	st, err := s.states.Verify(rawState)
	if err != nil {
		return nil, err
	}
	// El slug de la URL debe coincidir con el que viajó firmado: un state
	// emitido para un provider no sirve en el callback de otro.
	if st.Slug != slug {
		return nil, ErrInvalidState
	}
	p, err := s.provider(ctx, slug)
	if err != nil {
		return nil, err
	}
	secret, err := s.box.Decrypt(p.ClientSecretEnc)
	if err != nil {
		return nil, fmt.Errorf("sso: decrypt client secret: %w", err)
	}
	tok, err := s.client.Exchange(ctx, p, secret, code, s.redirectURI(slug))
	if err != nil {
		return nil, err
	}
	claims, err := s.client.Userinfo(ctx, p, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	profile, err := MapProfile(p.UserMapping, claims)
	if err != nil {
		return nil, err
	}

	switch st.Mode {
	case ModeLink:
		if err := s.link(ctx, p, st.UserID, profile, tok); err != nil {
			return nil, err
		}
		return &CallbackResult{Mode: ModeLink, UserID: st.UserID, Redirect: st.Redirect}, nil
	default:
		res, err := s.login(ctx, p, profile, tok, meta)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{Mode: ModeLogin, Login: res, UserID: res.User.ID, Redirect: st.Redirect}, nil
	}
}

func (s *Service) login(ctx context.Context, p *repository.IdentityProvider, profile *Profile, tok *upstreamToken, meta auth.RequestMeta) (*auth.LoginResult, error) {
	link, err := s.identities.GetBySubject(ctx, p.ID, profile.Subject)
	switch {
	case err == nil:
		u, err := s.users.GetByID(ctx, link.UserID)
		if err != nil {
			return nil, err
		}
		s.touch(ctx, p, profile.Subject, tok)
		return s.auth.Establish(ctx, u, meta)
	case errors.Is(err, repository.ErrNotFound):
		// sigue abajo: identidad nueva
	default:
		return nil, err
	}

	// Mail ya registrado localmente sin link: nunca se auto-vincula.
	if profile.Email != "" {
		if _, err := s.users.GetByEmail(ctx, profile.Email); err == nil {
			return nil, ErrEmailTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if !p.AutoCreateUsers {
		return nil, ErrNotLinked
	}

	u, err := s.provision(ctx, p, profile)
	if err != nil {
		return nil, err
	}
	if _, err := s.identities.Create(ctx, &repository.IdentityLink{
		UserID:     u.ID,
		ProviderID: p.ID,
		Subject:    profile.Subject,
	}); err != nil {
		return nil, err
	}
	s.touch(ctx, p, profile.Subject, tok)
	s.log.Info("federated user provisioned",
		zap.Int64("user_id", u.ID),
		zap.String("provider", p.Slug),
	)
	return s.auth.Establish(ctx, u, meta)
}

// provision crea la cuenta local para una identidad federada nueva. Sin
// password: la cuenta entra solo por SSO hasta que configure una.
func (s *Service) provision(ctx context.Context, p *repository.IdentityProvider, profile *Profile) (*repository.User, error) {
	base := profile.Username
	if base == "" && profile.Email != "" {
		base = strings.SplitN(profile.Email, "@", 2)[0]
	}
	if base == "" {
		base = p.Slug + "-" + profile.Subject
	}
	email := profile.Email
	if email == "" {
		// Placeholder único y no entregable; el usuario lo corrige después.
		email = fmt.Sprintf("%s+%s@sso.invalid", p.Slug, profile.Subject)
	}
	for i := 0; i < 5; i++ {
		username := base
		if i > 0 {
			username = fmt.Sprintf("%s%d", base, i+1)
		}
		u, err := s.users.Create(ctx, repository.CreateUserInput{
			Username: username,
			Email:    email,
			Active:   true,
			Approved: true,
		})
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("sso: could not allocate username for %q", base)
}

func (s *Service) link(ctx context.Context, p *repository.IdentityProvider, userID int64, profile *Profile, tok *upstreamToken) error {
	if _, err := s.identities.GetBySubject(ctx, p.ID, profile.Subject); err == nil {
		return ErrSubjectTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if _, err := s.identities.GetByUserAndProvider(ctx, userID, p.ID); err == nil {
		return ErrAlreadyLinked
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if _, err := s.identities.Create(ctx, &repository.IdentityLink{
		UserID:     userID,
		ProviderID: p.ID,
		Subject:    profile.Subject,
	}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrSubjectTaken
		}
		return err
	}
	s.touch(ctx, p, profile.Subject, tok)
	s.log.Info("identity linked", zap.Int64("user_id", userID), zap.String("provider", p.Slug))
	return nil
}

// touch registra el login y guarda el refresh del IdP cifrado. Best-effort:
// un fallo acá no voltea el flujo principal.
func (s *Service) touch(ctx context.Context, p *repository.IdentityProvider, subject string, tok *upstreamToken) {
	var refreshEnc *string
	if tok.RefreshToken != "" {
		enc, err := s.box.Encrypt(tok.RefreshToken)
		if err == nil {
			refreshEnc = &enc
		}
	}
	var exp *time.Time
	if !tok.ExpiresAt.IsZero() {
		e := tok.ExpiresAt
		exp = &e
	}
	if err := s.identities.Touch(ctx, p.ID, subject, time.Now().UTC(), refreshEnc, exp); err != nil {
		s.log.Warn("identity touch failed", zap.String("provider", p.Slug), zap.Error(err))
	}
}

// ListLinks lista las identidades federadas de una cuenta.
func (s *Service) ListLinks(ctx context.Context, userID int64) ([]repository.IdentityLink, error) {
	return s.identities.ListByUser(ctx, userID)
}

// Unlink desvincula un provider. Se rechaza si es el último método de
// autenticación: una cuenta sin password y sin links queda inaccesible.
func (s *Service) Unlink(ctx context.Context, userID int64, slug string) error {
	p, err := s.providers.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProviderNotFound
		}
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	links, err := s.identities.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.PasswordHash == "" && len(links) <= 1 {
		return ErrLastAuthMethod
	}
	if err := s.identities.Delete(ctx, userID, p.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotLinked
		}
		return err
	}
	s.log.Info("identity unlinked", zap.Int64("user_id", userID), zap.String("provider", slug))
	return nil
}
