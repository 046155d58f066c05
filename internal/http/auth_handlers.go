package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/stridelab/stride/internal/auth"
	"github.com/stridelab/stride/internal/domain/repository"
	httperrors "github.com/stridelab/stride/internal/http/errors"
	"github.com/stridelab/stride/internal/http/helpers"
	"github.com/stridelab/stride/internal/jwt"
)

// tokenResponse es la respuesta estándar de emisión de tokens.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (s *Server) meta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IPAddress: helpers.ClientIP(r, s.deps.TrustProxy),
		UserAgent: r.UserAgent(),
	}
}

func isBrowser(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Client-Type")), "browser")
}

// writeTokens responde el par emitido. Para clientes browser además instala
// las cookies y omite el refresh del body: vive solo en la cookie HttpOnly.
func (s *Server) writeTokens(w http.ResponseWriter, r *http.Request, pair *jwt.TokenPair) {
	resp := tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.deps.Tokens.AccessTTL().Seconds()),
	}
	if isBrowser(r) {
		s.cookies.SetSession(w, pair.AccessToken, pair.AccessExpiresAt, pair.RefreshToken, pair.RefreshExpiresAt)
	} else {
		resp.RefreshToken = pair.RefreshToken
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Identifier == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields)
		return
	}

	res, err := s.deps.Auth.Login(r.Context(), req.Identifier, req.Password, s.meta(r))
	if err != nil {
		countLogin("failed")
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	if res.MFARequired {
		countLogin("mfa_pending")
		helpers.WriteJSON(w, http.StatusOK, map[string]any{
			"mfa_required": true,
			"mfa_token":    res.MFAToken,
		})
		return
	}
	countLogin("ok")
	s.writeTokens(w, r, res.Tokens)
}

func (s *Server) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MFAToken string `json:"mfa_token"`
		Code     string `json:"code"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.MFAToken == "" || req.Code == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields)
		return
	}

	res, err := s.deps.Auth.CompleteMFA(r.Context(), req.MFAToken, req.Code, s.meta(r))
	if err != nil {
		countLogin("failed")
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	countLogin("ok")
	s.writeTokens(w, r, res.Tokens)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	// Flujo browser: body vacío, el refresh viaja en la cookie.
	_ = helpers.DecodeJSON(w, r, &req)

	raw := helpers.RefreshFromRequest(r, req.RefreshToken)
	if raw == "" {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	res, err := s.deps.Auth.Refresh(r.Context(), raw, s.meta(r))
	if err != nil {
		if errors.Is(err, auth.ErrRefreshReused) {
			countRefreshReuse()
			s.cookies.ClearSession(w)
		}
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	s.writeTokens(w, r, res.Tokens)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = helpers.DecodeJSON(w, r, &req)

	if raw := helpers.RefreshFromRequest(r, req.RefreshToken); raw != "" {
		s.deps.Auth.Logout(r.Context(), raw)
	}
	s.cookies.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields)
		return
	}

	if err := s.deps.Accounts.Signup(r.Context(), req.Username, req.Email, req.Password); err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "Revisá tu correo para confirmar la cuenta.",
	})
}

func (s *Server) handleSignupResend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if err := s.deps.Accounts.ResendConfirmation(r.Context(), req.Email); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSignupConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Accounts.ConfirmSignup(r.Context(), r.URL.Query().Get("token")); err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Cuenta confirmada. Ya podés iniciar sesión.",
	})
}

func (s *Server) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if err := s.deps.Accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	// Misma respuesta exista o no la cuenta.
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if err := s.deps.Accounts.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	claims := claimsOrFail(w, r)
	if claims == nil {
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if err := s.deps.Accounts.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		httperrors.WriteError(w, mapAuthError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mapAuthError traduce errores de dominio al catálogo HTTP.
func mapAuthError(err error) error {
	var perr *auth.PolicyError
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httperrors.ErrInvalidCredentials
	case errors.Is(err, auth.ErrAccountInactive):
		return httperrors.ErrAccountInactive
	case errors.Is(err, auth.ErrAccountNotApproved):
		return httperrors.ErrAccountNotApproved
	case errors.Is(err, auth.ErrPendingNotFound):
		return httperrors.ErrMFATokenInvalid
	case errors.Is(err, auth.ErrInvalidMFACode):
		return httperrors.ErrInvalidMFACode
	case errors.Is(err, auth.ErrRefreshReused):
		return httperrors.ErrRefreshReused
	case errors.Is(err, auth.ErrRefreshError):
		return httperrors.ErrTokenInvalid
	case errors.Is(err, auth.ErrUserExists):
		return httperrors.ErrUserExists
	case errors.Is(err, auth.ErrBadToken):
		return httperrors.ErrBadEmailToken
	case errors.Is(err, auth.ErrMFAAlreadyEnabled):
		return httperrors.ErrMFAStateConflict.WithDetail("MFA ya está habilitado.")
	case errors.Is(err, auth.ErrMFANotEnabled):
		return httperrors.ErrMFAStateConflict.WithDetail("MFA no está habilitado.")
	case errors.Is(err, auth.ErrNoPendingSetup):
		return httperrors.ErrMFAStateConflict.WithDetail("No hay un setup de MFA pendiente.")
	case errors.Is(err, repository.ErrNotFound):
		return httperrors.ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return httperrors.ErrConflict
	case errors.As(err, &perr):
		return httperrors.ErrWeakPassword.WithDetail(strings.Join(perr.Reasons, "; "))
	default:
		return err
	}
}
