package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stridelab/stride/internal/domain/repository"
	httperrors "github.com/stridelab/stride/internal/http/errors"
	"github.com/stridelab/stride/internal/http/helpers"
)

// providerDTO es la vista admin de un IdP. El client secret entra en texto
// plano por este DTO y sale siempre omitido: nunca se devuelve, ni cifrado.
type providerDTO struct {
	ID              int64               `json:"id,omitempty"`
	Slug            string              `json:"slug"`
	Name            string              `json:"name"`
	Type            string              `json:"type"`
	Enabled         bool                `json:"enabled"`
	ClientID        string              `json:"client_id"`
	ClientSecret    string              `json:"client_secret,omitempty"`
	IssuerURL       string              `json:"issuer_url,omitempty"`
	AuthorizeURL    string              `json:"authorize_url,omitempty"`
	TokenURL        string              `json:"token_url,omitempty"`
	UserinfoURL     string              `json:"userinfo_url,omitempty"`
	JWKSURL         string              `json:"jwks_url,omitempty"`
	Scopes          []string            `json:"scopes,omitempty"`
	AutoCreateUsers bool                `json:"auto_create_users"`
	SyncUserInfo    bool                `json:"sync_user_info"`
	UserMapping     map[string][]string `json:"user_mapping,omitempty"`
}

func providerToDTO(p *repository.IdentityProvider) providerDTO {
	return providerDTO{
		ID:              p.ID,
		Slug:            p.Slug,
		Name:            p.Name,
		Type:            string(p.Type),
		Enabled:         p.Enabled,
		ClientID:        p.ClientID,
		IssuerURL:       p.IssuerURL,
		AuthorizeURL:    p.AuthorizeURL,
		TokenURL:        p.TokenURL,
		UserinfoURL:     p.UserinfoURL,
		JWKSURL:         p.JWKSURL,
		Scopes:          p.Scopes,
		AutoCreateUsers: p.AutoCreateUsers,
		SyncUserInfo:    p.SyncUserInfo,
		UserMapping:     p.UserMapping,
	}
}

func (s *Server) dtoToProvider(dto providerDTO) (*repository.IdentityProvider, error) {
	if dto.Slug == "" || dto.Name == "" || dto.ClientID == "" {
		return nil, httperrors.ErrMissingFields
	}
	typ := repository.ProviderType(dto.Type)
	if typ != repository.ProviderTypeOIDC && typ != repository.ProviderTypeOAuth2 {
		return nil, httperrors.ErrBadRequest.WithDetail("type debe ser oidc u oauth2")
	}
	p := &repository.IdentityProvider{
		ID:              dto.ID,
		Slug:            dto.Slug,
		Name:            dto.Name,
		Type:            typ,
		Enabled:         dto.Enabled,
		ClientID:        dto.ClientID,
		IssuerURL:       dto.IssuerURL,
		AuthorizeURL:    dto.AuthorizeURL,
		TokenURL:        dto.TokenURL,
		UserinfoURL:     dto.UserinfoURL,
		JWKSURL:         dto.JWKSURL,
		Scopes:          dto.Scopes,
		AutoCreateUsers: dto.AutoCreateUsers,
		SyncUserInfo:    dto.SyncUserInfo,
		UserMapping:     dto.UserMapping,
	}
	if dto.ClientSecret != "" {
		enc, err := s.deps.SSO.EncryptSecret(dto.ClientSecret)
		if err != nil {
			return nil, err
		}
		p.ClientSecretEnc = enc
	}
	return p, nil
}

func (s *Server) handleProviderList(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.SSO.Providers().List(r.Context())
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	out := make([]providerDTO, 0, len(list))
	for i := range list {
		out = append(out, providerToDTO(&list[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleProviderCreate(w http.ResponseWriter, r *http.Request) {
	var dto providerDTO
	if err := helpers.DecodeJSON(w, r, &dto); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if dto.ClientSecret == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("client_secret es requerido al crear"))
		return
	}
	p, err := s.dtoToProvider(dto)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	created, err := s.deps.SSO.Providers().Create(r.Context(), p)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			httperrors.WriteError(w, httperrors.ErrConflict.WithDetail("slug ya en uso"))
			return
		}
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, providerToDTO(created))
}

func (s *Server) handleProviderGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	p, err := s.deps.SSO.Providers().GetByID(r.Context(), id)
	if err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, providerToDTO(p))
}

func (s *Server) handleProviderUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	existing, err := s.deps.SSO.Providers().GetByID(r.Context(), id)
	if err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	var dto providerDTO
	if err := helpers.DecodeJSON(w, r, &dto); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	dto.ID = id
	p, err := s.dtoToProvider(dto)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	// Secret ausente en el update: se conserva el vigente.
	if p.ClientSecretEnc == "" {
		p.ClientSecretEnc = existing.ClientSecretEnc
	}
	updated, err := s.deps.SSO.Providers().Update(r.Context(), p)
	if err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, providerToDTO(updated))
}

func (s *Server) handleProviderDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.deps.SSO.Providers().Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			httperrors.WriteError(w, httperrors.ErrProviderInUse)
			return
		}
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	sessions, err := s.deps.Auth.Sessions().ListByUser(r.Context(), id)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	type sessionDTO struct {
		ID        string  `json:"id"`
		IPAddress *string `json:"ip_address,omitempty"`
		UserAgent *string `json:"user_agent,omitempty"`
		CreatedAt string  `json:"created_at"`
		ExpiresAt string  `json:"expires_at"`
		Revoked   bool    `json:"revoked"`
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionDTO{
			ID:        sess.ID,
			IPAddress: sess.IPAddress,
			UserAgent: sess.UserAgent,
			CreatedAt: sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			ExpiresAt: sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
			Revoked:   sess.RevokedAt != nil,
		})
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleUserSessionsRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	n, err := s.deps.Auth.RevokeAll(r.Context(), id)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("id inválido"))
		return 0, false
	}
	return id, true
}
