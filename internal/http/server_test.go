package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stridelab/stride/internal/auth"
	"github.com/stridelab/stride/internal/domain/repository"
	"github.com/stridelab/stride/internal/email"
	"github.com/stridelab/stride/internal/jwt"
	"github.com/stridelab/stride/internal/rate"
	"github.com/stridelab/stride/internal/security/password"
	"github.com/stridelab/stride/internal/security/secretbox"
	"github.com/stridelab/stride/internal/sso"
	"github.com/stridelab/stride/internal/store/memory"
)

type nopSender struct{}

func (nopSender) Send(_, _, _, _ string) error { return nil }

type fixture struct {
	srv   *Server
	store *memory.Store
	box   *secretbox.Box
}

func newFixture(t *testing.T, guard *rate.Guard) *fixture {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	tokens, err := jwt.NewManager("stride-test", seed, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)

	st := memory.New()
	mfaSvc := auth.NewMFAService(st.Users, box, "Stride", zap.NewNop())
	authSvc := auth.NewService(st.Users, st.Sessions, tokens, mfaSvc, []string{"root"}, zap.NewNop())
	mailer := email.NewMailer(nopSender{}, "Stride", "http://localhost:8080")
	accountSvc := auth.NewAccountService(st.Users, st.EmailTokens, st.Sessions, mailer, password.Policy{MinLength: 8}, zap.NewNop())
	ssoSvc := sso.NewService(st.Providers, st.Identities, st.Users, authSvc, box, tokens, "http://localhost:8080", zap.NewNop())

	srv, err := NewServer(Deps{
		Auth:      authSvc,
		Accounts:  accountSvc,
		SSO:       ssoSvc,
		Tokens:    tokens,
		Guard:     guard,
		Readiness: func(context.Context) error { return nil },
		Addr:      ":0",
	})
	require.NoError(t, err)
	return &fixture{srv: srv, store: st, box: box}
}

func (f *fixture) seedUser(t *testing.T, username, email, plain string) *repository.User {
	t.Helper()
	phc, err := password.Hash(password.Default, plain)
	require.NoError(t, err)
	u, err := f.store.Users.Create(context.Background(), repository.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: phc,
		Active:       true,
		Approved:     true,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, identifier, pass string) (access, refresh string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": identifier, "password": pass,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken, resp.RefreshToken
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.deps.Readiness = func(context.Context) error { return fmt.Errorf("db down") }

	rec := f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginAPIClient(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")

	rec := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": "ana", "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Empty(t, rec.Result().Cookies(), "API clients must not receive cookies")
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")

	rec := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": "ana", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))
}

func TestLoginMissingFields(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"identifier": "ana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_FIELDS", errorCode(t, rec))
}

func TestBrowserLoginSetsCookies(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")

	rec := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": "ana", "password": "correct horse",
	}, func(r *http.Request) {
		r.Header.Set("X-Client-Type", "browser")
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.RefreshToken, "browser flow keeps the refresh in the cookie only")

	var names []string
	for _, ck := range rec.Result().Cookies() {
		names = append(names, ck.Name)
		switch ck.Name {
		case "access_token":
			assert.True(t, ck.HttpOnly)
		case "refresh_token":
			assert.True(t, ck.HttpOnly)
			assert.Equal(t, "/v1/auth", ck.Path)
		}
	}
	assert.Contains(t, names, "access_token")
	assert.Contains(t, names, "refresh_token")
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")
	_, refresh := f.login(t, "ana", "correct horse")

	rec := f.do(t, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, refresh, resp.RefreshToken)

	// El refresh viejo quedó muerto: reusarlo revoca todo.
	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "REFRESH_REUSED", errorCode(t, rec))

	// Y también mató al sucesor.
	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": resp.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshWithoutToken(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")
	_, refresh := f.login(t, "ana", "correct horse")

	rec := f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Repetir con el mismo token no falla.
	rec = f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCSRFMintAndDoubleSubmit(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")
	_, refresh := f.login(t, "ana", "correct horse")

	rec := f.do(t, http.MethodGet, "/v1/csrf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var minted struct {
		Token string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &minted))
	require.NotEmpty(t, minted.Token)

	var csrfCookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "csrf_token" {
			csrfCookie = ck
		}
	}
	require.NotNil(t, csrfCookie)
	assert.False(t, csrfCookie.HttpOnly, "JS must be able to read the CSRF cookie")
	assert.Equal(t, minted.Token, csrfCookie.Value)

	// Browser sin CSRF: rechazado.
	rec = f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh},
		func(r *http.Request) { r.Header.Set("X-Client-Type", "browser") })
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CSRF_REJECTED", errorCode(t, rec))

	// Header sin cookie: rechazado.
	rec = f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh},
		func(r *http.Request) {
			r.Header.Set("X-Client-Type", "browser")
			r.Header.Set("X-CSRF-Token", minted.Token)
		})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Double-submit completo: pasa.
	rec = f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh},
		func(r *http.Request) {
			r.Header.Set("X-Client-Type", "browser")
			r.Header.Set("X-CSRF-Token", minted.Token)
			r.AddCookie(&http.Cookie{Name: "csrf_token", Value: minted.Token})
		})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCSRFSkipsLoginBootstrap(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")

	rec := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": "ana", "password": "correct horse",
	}, func(r *http.Request) { r.Header.Set("X-Client-Type", "browser") })
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFSkipsRefresh(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")
	_, refresh := f.login(t, "ana", "correct horse")

	// Un browser recién llegado refresca sin haber minteado CSRF todavía:
	// la cookie de refresh es SameSite Strict y el token rota en cada uso.
	rec := f.do(t, http.MethodPost, "/v1/auth/refresh", nil, func(r *http.Request) {
		r.Header.Set("X-Client-Type", "browser")
		r.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh})
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCSRFSkipsAPIClients(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")
	_, refresh := f.login(t, "ana", "correct horse")

	// Sin X-Client-Type: browser no hay check aunque sea POST.
	rec := f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIdPCallbackFailureLogged(t *testing.T) {
	f := newFixture(t, nil)
	core, logs := observer.New(zap.WarnLevel)
	f.srv.log = zap.New(core)

	rec := f.do(t, http.MethodGet, "/v1/idp/callback/acme?code=x&state=garbage", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "error=")

	// El browser recibe un código genérico; el detalle va al log.
	require.Equal(t, 1, logs.FilterMessage("idp callback failed").Len())
}

func TestIdPCallbackDeniedLogged(t *testing.T) {
	f := newFixture(t, nil)
	core, logs := observer.New(zap.WarnLevel)
	f.srv.log = zap.New(core)

	rec := f.do(t, http.MethodGet, "/v1/idp/callback/acme?error=access_denied", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "provider_denied")
	require.Equal(t, 1, logs.FilterMessage("idp callback denied").Len())
}

func TestAuthRequiredOnProtectedRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/mfa/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/mfa/status", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer garbage")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", errorCode(t, rec))
}

func TestAccessTokenViaCookie(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")
	access, _ := f.login(t, "ana", "correct horse")

	rec := f.do(t, http.MethodGet, "/v1/mfa/status", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "access_token", Value: access})
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRequiresScope(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")
	f.seedUser(t, "root", "root@example.com", "hunter22+X")

	access, _ := f.login(t, "ana", "correct horse")
	rec := f.do(t, http.MethodGet, "/v1/admin/providers", nil, bearer(access))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_SCOPES", errorCode(t, rec))

	rootAccess, _ := f.login(t, "root", "hunter22+X")
	rec = f.do(t, http.MethodGet, "/v1/admin/providers", nil, bearer(rootAccess))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProviderCRUD(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "root", "root@example.com", "hunter22+X")
	access, _ := f.login(t, "root", "hunter22+X")

	create := map[string]any{
		"slug":          "acme",
		"name":          "Acme ID",
		"type":          "oidc",
		"enabled":       true,
		"client_id":     "stride-client",
		"client_secret": "super-secret",
		"authorize_url": "https://idp.acme.test/authorize",
		"token_url":     "https://idp.acme.test/token",
		"userinfo_url":  "https://idp.acme.test/userinfo",
		"scopes":        []string{"openid", "email"},
	}
	rec := f.do(t, http.MethodPost, "/v1/admin/providers", create, bearer(access))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "super-secret", "secrets never leave the API")

	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.ID)

	// El secreto quedó cifrado, no en claro.
	stored, err := f.store.Providers.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret", stored.ClientSecretEnc)
	plain, err := f.box.Decrypt(stored.ClientSecretEnc)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", plain)

	// Slug duplicado.
	rec = f.do(t, http.MethodPost, "/v1/admin/providers", create, bearer(access))
	assert.Equal(t, http.StatusConflict, rec.Code)

	path := fmt.Sprintf("/v1/admin/providers/%d", created.ID)
	rec = f.do(t, http.MethodGet, path, nil, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slug":"acme"`)

	// Update sin client_secret conserva el vigente.
	update := map[string]any{
		"slug":      "acme",
		"name":      "Acme Identity",
		"type":      "oidc",
		"enabled":   false,
		"client_id": "stride-client",
	}
	rec = f.do(t, http.MethodPut, path, update, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored, err = f.store.Providers.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	plain, err = f.box.Decrypt(stored.ClientSecretEnc)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", plain)
	assert.False(t, stored.Enabled)

	rec = f.do(t, http.MethodDelete, path, nil, bearer(access))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, path, nil, bearer(access))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderDeleteWithLinksConflicts(t *testing.T) {
	f := newFixture(t, nil)
	root := f.seedUser(t, "root", "root@example.com", "hunter22+X")
	access, _ := f.login(t, "root", "hunter22+X")

	enc, err := f.box.Encrypt("s3cret")
	require.NoError(t, err)
	p, err := f.store.Providers.Create(context.Background(), &repository.IdentityProvider{
		Slug: "acme", Name: "Acme", Type: repository.ProviderTypeOIDC,
		Enabled: true, ClientID: "c", ClientSecretEnc: enc,
	})
	require.NoError(t, err)
	_, err = f.store.Identities.Create(context.Background(), &repository.IdentityLink{
		UserID: root.ID, ProviderID: p.ID, Subject: "ext-1",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodDelete, fmt.Sprintf("/v1/admin/providers/%d", p.ID), nil, bearer(access))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PROVIDER_IN_USE", errorCode(t, rec))
}

func TestAdminSessionList(t *testing.T) {
	f := newFixture(t, nil)
	ana := f.seedUser(t, "ana", "ana@example.com", "correct horse")
	f.seedUser(t, "root", "root@example.com", "hunter22+X")
	access, _ := f.login(t, "root", "hunter22+X")
	f.login(t, "ana", "correct horse")
	f.login(t, "ana", "correct horse")

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/v1/admin/users/%d/sessions", ana.ID), nil, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []struct {
			ID      string `json:"id"`
			Revoked bool   `json:"revoked"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/v1/admin/users/%d/sessions", ana.ID), nil, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"revoked":2`)
}

func TestRateLimitLogin(t *testing.T) {
	guard := rate.NewGuard(rate.NewMemoryLimiter(), map[rate.Category]rate.Budget{
		rate.CategoryLogin: {Limit: 2, Window: time.Minute},
	})
	f := newFixture(t, guard)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")

	body := map[string]string{"identifier": "ana", "password": "nope"}
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/v1/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/v1/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitDefaultAPIBudget(t *testing.T) {
	guard := rate.NewGuard(rate.NewMemoryLimiter(), map[rate.Category]rate.Budget{
		rate.CategoryAPI: {Limit: 2, Window: time.Minute},
	})
	f := newFixture(t, guard)

	// /v1/csrf no tiene categoría propia: lo cubre el presupuesto global.
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/v1/csrf", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/v1/csrf", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, rec))
}

func TestRateLimitLogout(t *testing.T) {
	guard := rate.NewGuard(rate.NewMemoryLimiter(), map[rate.Category]rate.Budget{
		rate.CategoryRefresh: {Limit: 1, Window: time.Minute},
	})
	f := newFixture(t, guard)
	f.seedUser(t, "ana", "ana@example.com", "correct horse")
	_, refresh := f.login(t, "ana", "correct horse")

	rec := f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, rec))
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	guard := rate.NewGuard(rate.NewMemoryLimiter(), map[rate.Category]rate.Budget{
		rate.CategoryLogin: {Limit: 2, Window: time.Minute},
	})
	f := newFixture(t, guard) // TrustProxy apagado
	f.seedUser(t, "ana", "ana@example.com", "correct horse")

	// Rotar X-Forwarded-For no compra identidades nuevas: sin proxy
	// confiable la clave es la RemoteAddr real.
	body := map[string]string{"identifier": "ana", "password": "nope"}
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/v1/auth/login", body, func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/v1/auth/login", body, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "10.0.0.99")
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSignupFlow(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/auth/signup", map[string]string{
		"username": "leo", "email": "leo@example.com", "password": "long enough pass",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	// Login antes de confirmar: cuenta inactiva.
	rec = f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": "leo", "password": "long enough pass",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCOUNT_INACTIVE", errorCode(t, rec))
}

func TestSignupWeakPassword(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/auth/signup", map[string]string{
		"username": "leo", "email": "leo@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "WEAK_PASSWORD", errorCode(t, rec))
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"identifier":"a","password":"b","extra":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", errorCode(t, rec))
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}
