package helpers

import (
	"net/http"
	"time"
)

// Nombres de cookies del flujo browser.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
	CSRFCookie    = "csrf_token"
)

// CookieWriter centraliza los atributos de cookies: Secure se decide una vez
// según el entorno, no en cada handler.
type CookieWriter struct {
	Secure bool
	Domain string
}

// SetSession instala las cookies de sesión. access y refresh van HttpOnly;
// el refresh queda scopeado al endpoint que lo usa.
func (c CookieWriter) SetSession(w http.ResponseWriter, access string, accessExp time.Time, refresh string, refreshExp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    access,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  accessExp,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/v1/auth",
		Domain:   c.Domain,
		Expires:  refreshExp,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// SetCSRF instala la cookie del double-submit. Legible por JS a propósito:
// el cliente la copia al header X-CSRF-Token.
func (c CookieWriter) SetCSRF(w http.ResponseWriter, token string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  exp,
		HttpOnly: false,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSession borra las cookies de sesión (logout).
func (c CookieWriter) ClearSession(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		path := "/"
		if name == RefreshCookie {
			path = "/v1/auth"
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			Domain:   c.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   c.Secure,
		})
	}
}

// BearerOrCookie saca el access token del header Authorization o, si no
// está, de la cookie. El header gana: clientes API no usan cookies.
func BearerOrCookie(r *http.Request) string {
	if ah := r.Header.Get("Authorization"); len(ah) > 7 && (ah[:7] == "Bearer " || ah[:7] == "bearer ") {
		return ah[7:]
	}
	if ck, err := r.Cookie(AccessCookie); err == nil {
		return ck.Value
	}
	return ""
}

// RefreshFromRequest saca el refresh del body-less flujo browser (cookie) o
// del JSON ya parseado por el handler.
func RefreshFromRequest(r *http.Request, bodyToken string) string {
	if bodyToken != "" {
		return bodyToken
	}
	if ck, err := r.Cookie(RefreshCookie); err == nil {
		return ck.Value
	}
	return ""
}
