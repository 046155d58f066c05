package middlewares

import (
	"context"
	"errors"
	"net/http"

	httperrors "github.com/stridelab/stride/internal/http/errors"
	"github.com/stridelab/stride/internal/http/helpers"
	"github.com/stridelab/stride/internal/jwt"
)

// WithAuth valida el access token (Bearer o cookie) y deja los claims en el
// contexto. Distingue expirado de inválido para que el cliente sepa si le
// alcanza con refrescar.
func WithAuth(tokens *jwt.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := helpers.BearerOrCookie(r)
			if raw == "" {
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}
			claims, err := tokens.VerifyAccess(raw)
			if err != nil {
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					httperrors.WriteError(w, httperrors.ErrTokenExpired)
				default:
					httperrors.WriteError(w, httperrors.ErrTokenInvalid)
				}
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScopes corta con 403 si el token no trae todos los scopes pedidos.
// Presupone WithAuth antes en la cadena.
func RequireScopes(scopes ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}
			if err := claims.HasScopes(scopes...); err != nil {
				httperrors.WriteError(w, httperrors.ErrInsufficientScopes)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFrom recupera los claims del access token validado.
func ClaimsFrom(ctx context.Context) *jwt.Claims {
	if v, ok := ctx.Value(ctxKeyClaims).(*jwt.Claims); ok {
		return v
	}
	return nil
}
