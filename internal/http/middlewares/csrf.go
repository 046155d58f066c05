package middlewares

import (
	"net/http"
	"strings"

	httperrors "github.com/stridelab/stride/internal/http/errors"
	"github.com/stridelab/stride/internal/http/helpers"
	"github.com/stridelab/stride/internal/security/token"
)

// CSRFConfig configura el double-submit.
type CSRFConfig struct {
	HeaderName string // default "X-CSRF-Token"
	// ExemptPaths: endpoints de bootstrap que por definición corren antes de
	// tener cookie CSRF (login, signup, callbacks de IdP).
	ExemptPaths []string
}

// WithCSRF aplica double-submit para clientes browser en métodos inseguros.
// Reglas:
//   - Solo aplica cuando X-Client-Type: browser; los clientes API (Bearer,
//     apps móviles) no usan cookies y el check no aporta nada.
//   - Métodos seguros (GET, HEAD, OPTIONS) pasan siempre.
//   - Los paths exentos son el bootstrap del flujo: todavía no hay sesión
//     que proteger.
func WithCSRF(cfg CSRFConfig) Middleware {
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}
	exempt := make(map[string]struct{}, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = struct{}{}
	}

	isUnsafe := func(m string) bool {
		switch m {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			return true
		default:
			return false
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isUnsafe(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Client-Type")), "browser") {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			hdr := strings.TrimSpace(r.Header.Get(headerName))
			ck, err := r.Cookie(helpers.CSRFCookie)
			if hdr == "" || err != nil || ck.Value == "" || !token.ConstantTimeEqual(hdr, ck.Value) {
				httperrors.WriteError(w, httperrors.ErrCSRFRejected)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
