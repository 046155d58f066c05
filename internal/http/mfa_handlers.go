package http

import (
	"net/http"

	httperrors "github.com/stridelab/stride/internal/http/errors"
	"github.com/stridelab/stride/internal/http/helpers"
	"github.com/stridelab/stride/internal/http/middlewares"
	"github.com/stridelab/stride/internal/jwt"
)

// claimsOrFail saca los claims del contexto o corta con 401. WithAuth ya
// corrió; esto cubre solo un mal wiring de rutas.
func claimsOrFail(w http.ResponseWriter, r *http.Request) *jwt.Claims {
	claims := middlewares.ClaimsFrom(r.Context())
	if claims == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
	}
	return claims
}

func (s *Server) handleMFAStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsOrFail(w, r)
	if claims == nil {
		return
	}
	status, err := s.deps.Auth.MFA().Status(r.Context(), claims.UserID)
	if err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	claims := claimsOrFail(w, r)
	if claims == nil {
		return
	}
	setup, err := s.deps.Auth.MFA().Setup(r.Context(), claims.UserID)
	if err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	// El secreto sale una única vez; no vuelve a ser legible.
	helpers.WriteJSON(w, http.StatusOK, map[string]string{
		"secret":      setup.Secret,
		"otpauth_url": setup.OTPAuthURL,
	})
}

func (s *Server) handleMFAEnable(w http.ResponseWriter, r *http.Request) {
	claims := claimsOrFail(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Code == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields)
		return
	}
	if err := s.deps.Auth.MFA().Enable(r.Context(), claims.UserID, req.Code); err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	claims := claimsOrFail(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Code == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields)
		return
	}
	if err := s.deps.Auth.MFA().Disable(r.Context(), claims.UserID, req.Code); err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
