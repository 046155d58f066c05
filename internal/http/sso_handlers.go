package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	httperrors "github.com/stridelab/stride/internal/http/errors"
	"github.com/stridelab/stride/internal/http/helpers"
	"github.com/stridelab/stride/internal/sso"
)

func (s *Server) handleIdPLogin(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	redirect := sanitizeRedirect(r.URL.Query().Get("redirect"))

	authURL, err := s.deps.SSO.InitiateLogin(r.Context(), slug, redirect)
	if err != nil {
		httperrors.WriteError(w, mapSSOError(err))
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleIdPCallback(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	q := r.URL.Query()

	// El IdP reporta errores por query; no se propaga el detalle upstream.
	if e := q.Get("error"); e != "" {
		s.log.Warn("idp callback denied",
			zap.String("provider", slug),
			zap.String("idp_error", e),
		)
		s.redirectError(w, r, "provider_denied")
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		s.redirectError(w, r, "invalid_callback")
		return
	}

	res, err := s.deps.SSO.HandleCallback(r.Context(), slug, code, state, s.meta(r))
	if err != nil {
		// El navegador venía del IdP: respuesta navegable, genérica. El
		// detalle queda en el log, que es donde se diagnostica.
		s.log.Warn("idp callback failed", zap.String("provider", slug), zap.Error(err))
		s.redirectError(w, r, ssoErrorCode(err))
		return
	}

	target := res.Redirect
	if target == "" {
		target = "/"
	}
	if res.Mode == sso.ModeLogin {
		countLogin("ok")
		s.cookies.SetSession(w,
			res.Login.Tokens.AccessToken, res.Login.Tokens.AccessExpiresAt,
			res.Login.Tokens.RefreshToken, res.Login.Tokens.RefreshExpiresAt,
		)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleIdPLinks(w http.ResponseWriter, r *http.Request) {
	claims := claimsOrFail(w, r)
	if claims == nil {
		return
	}
	links, err := s.deps.SSO.ListLinks(r.Context(), claims.UserID)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	type linkDTO struct {
		ProviderID int64  `json:"provider_id"`
		Subject    string `json:"subject"`
		LinkedAt   string `json:"linked_at"`
	}
	out := make([]linkDTO, 0, len(links))
	for _, l := range links {
		out = append(out, linkDTO{
			ProviderID: l.ProviderID,
			Subject:    l.Subject,
			LinkedAt:   l.LinkedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"links": out})
}

func (s *Server) handleIdPLink(w http.ResponseWriter, r *http.Request) {
	claims := claimsOrFail(w, r)
	if claims == nil {
		return
	}
	slug := chi.URLParam(r, "slug")
	redirect := sanitizeRedirect(r.URL.Query().Get("redirect"))

	authURL, err := s.deps.SSO.InitiateLink(r.Context(), slug, claims.UserID, redirect)
	if err != nil {
		httperrors.WriteError(w, mapSSOError(err))
		return
	}
	// POST desde XHR: el cliente sigue la URL, no redirigimos acá.
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"authorize_url": authURL})
}

func (s *Server) handleIdPUnlink(w http.ResponseWriter, r *http.Request) {
	claims := claimsOrFail(w, r)
	if claims == nil {
		return
	}
	if err := s.deps.SSO.Unlink(r.Context(), claims.UserID, chi.URLParam(r, "slug")); err != nil {
		httperrors.WriteError(w, mapSSOError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// redirectError manda al navegador a la página de error del front con un
// código genérico.
func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(code), http.StatusFound)
}

// sanitizeRedirect solo acepta paths relativos propios: nada de open
// redirects hacia otros hosts.
func sanitizeRedirect(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || len(raw) == 0 || raw[0] != '/' {
		return ""
	}
	return raw
}

func ssoErrorCode(err error) string {
	switch {
	case errors.Is(err, sso.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, sso.ErrUpstream):
		return "provider_unavailable"
	case errors.Is(err, sso.ErrNotLinked):
		return "account_not_linked"
	case errors.Is(err, sso.ErrEmailTaken):
		return "email_in_use"
	case errors.Is(err, sso.ErrSubjectTaken):
		return "identity_in_use"
	default:
		return "sso_failed"
	}
}

func mapSSOError(err error) error {
	switch {
	case errors.Is(err, sso.ErrProviderNotFound), errors.Is(err, sso.ErrProviderDisabled):
		return httperrors.ErrProviderNotFound
	case errors.Is(err, sso.ErrInvalidState):
		return httperrors.ErrInvalidState
	case errors.Is(err, sso.ErrUpstream):
		return httperrors.ErrUpstreamUnavailable.WithCause(err)
	case errors.Is(err, sso.ErrNotLinked):
		return httperrors.ErrAccountNotLinked
	case errors.Is(err, sso.ErrEmailTaken), errors.Is(err, sso.ErrSubjectTaken), errors.Is(err, sso.ErrAlreadyLinked):
		return httperrors.ErrIdentityConflict
	case errors.Is(err, sso.ErrLastAuthMethod):
		return httperrors.ErrLastAuthMethod
	default:
		return err
	}
}
