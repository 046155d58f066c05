package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	httperrors "github.com/stridelab/stride/internal/http/errors"
	"github.com/stridelab/stride/internal/http/helpers"
	"github.com/stridelab/stride/internal/security/token"
)

const csrfTokenTTL = 12 * time.Hour

// handleCSRFMint entrega un token CSRF fresco para clientes browser. El
// valor viaja dos veces: en la cookie (legible por JS) y en el body; el
// middleware exige que coincidan en cada mutación posterior.
func (s *Server) handleCSRFMint(w http.ResponseWriter, r *http.Request) {
	tok, err := token.GenerateOpaqueToken(32)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	s.cookies.SetCSRF(w, tok, time.Now().Add(csrfTokenTTL))
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"csrf_token": tok})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz verifica dependencias reales (DB). Un 503 acá saca la
// instancia de rotación sin matar el proceso.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if s.deps.Readiness != nil {
		if err := s.deps.Readiness(ctx); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			helpers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			})
			return
		}
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
