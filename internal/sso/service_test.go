package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/auth"
	"github.com/stridelab/stride/internal/domain/repository"
	"github.com/stridelab/stride/internal/jwt"
	"github.com/stridelab/stride/internal/security/secretbox"
	"github.com/stridelab/stride/internal/store/memory"
)

// fakeIdP levanta token + userinfo endpoints con un perfil fijo.
type fakeIdP struct {
	srv      *httptest.Server
	claims   map[string]any
	tokenErr bool
}

func newFakeIdP(claims map[string]any) *fakeIdP {
	f := &fakeIdP{claims: claims}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if f.tokenErr {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "authorization_code" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "upstream-access",
			"refresh_token": "upstream-refresh",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-access" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(f.claims)
	})
	f.srv = httptest.NewServer(mux)
	return f
}

type fixture struct {
	svc  *Service
	st   *memory.Store
	auth *auth.Service
	box  *secretbox.Box
	idp  *fakeIdP
	prov *repository.IdentityProvider
}

func newFixture(t *testing.T, claims map[string]any, autoCreate bool) *fixture {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	mgr, err := jwt.NewManager("stride-test", seed, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)

	st := memory.New()
	mfa := auth.NewMFAService(st.Users, box, "Stride", zap.NewNop())
	authSvc := auth.NewService(st.Users, st.Sessions, mgr, mfa, nil, zap.NewNop())

	idp := newFakeIdP(claims)
	t.Cleanup(idp.srv.Close)

	secretEnc, err := box.Encrypt("shhh")
	require.NoError(t, err)
	prov, err := st.Providers.Create(context.Background(), &repository.IdentityProvider{
		Slug:            "acme",
		Name:            "Acme ID",
		Type:            repository.ProviderTypeOIDC,
		Enabled:         true,
		ClientID:        "stride-client",
		ClientSecretEnc: secretEnc,
		AuthorizeURL:    idp.srv.URL + "/authorize",
		TokenURL:        idp.srv.URL + "/token",
		UserinfoURL:     idp.srv.URL + "/userinfo",
		Scopes:          []string{"openid", "email"},
		AutoCreateUsers: autoCreate,
	})
	require.NoError(t, err)

	svc := NewService(st.Providers, st.Identities, st.Users, authSvc, box, mgr, "https://stride.example", zap.NewNop())
	return &fixture{svc: svc, st: st, auth: authSvc, box: box, idp: idp, prov: prov}
}

// stateFor emite un state válido sin pasar por el IdP.
func (f *fixture) stateFor(t *testing.T, st State) string {
	t.Helper()
	signed, err := f.svc.states.Sign(st)
	require.NoError(t, err)
	return signed
}

func TestInitiateLoginBuildsAuthorizeURL(t *testing.T) {
	f := newFixture(t, map[string]any{"sub": "s1"}, true)

	raw, err := f.svc.InitiateLogin(context.Background(), "acme", "/dashboard")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "stride-client", q.Get("client_id"))
	assert.Equal(t, "https://stride.example/v1/idp/callback/acme", q.Get("redirect_uri"))
	assert.Equal(t, "openid email", q.Get("scope"))
	require.NotEmpty(t, q.Get("state"))

	st, err := f.svc.states.Verify(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, ModeLogin, st.Mode)
	assert.Equal(t, "acme", st.Slug)
	assert.Equal(t, "/dashboard", st.Redirect)
}

func TestInitiateLoginUnknownProvider(t *testing.T) {
	f := newFixture(t, nil, false)
	_, err := f.svc.InitiateLogin(context.Background(), "ghost", "")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestInitiateLoginDisabledProvider(t *testing.T) {
	f := newFixture(t, nil, false)
	f.prov.Enabled = false
	_, err := f.st.Providers.Update(context.Background(), f.prov)
	require.NoError(t, err)

	_, err = f.svc.InitiateLogin(context.Background(), "acme", "")
	assert.ErrorIs(t, err, ErrProviderDisabled)
}

func TestInitiateLinkAlreadyLinked(t *testing.T) {
	f := newFixture(t, nil, false)
	u, err := f.st.Users.Create(context.Background(), repository.CreateUserInput{
		Username: "leo", Email: "leo@example.com", PasswordHash: "x", Active: true, Approved: true,
	})
	require.NoError(t, err)
	_, err = f.st.Identities.Create(context.Background(), &repository.IdentityLink{
		UserID: u.ID, ProviderID: f.prov.ID, Subject: "acme-77",
	})
	require.NoError(t, err)

	// El conflicto se corta antes de mandar al usuario al IdP.
	_, err = f.svc.InitiateLink(context.Background(), "acme", u.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyLinked)
}

func TestInitiateLinkFreshUser(t *testing.T) {
	f := newFixture(t, nil, false)
	u, err := f.st.Users.Create(context.Background(), repository.CreateUserInput{
		Username: "ana", Email: "ana@example.com", PasswordHash: "x", Active: true, Approved: true,
	})
	require.NoError(t, err)

	raw, err := f.svc.InitiateLink(context.Background(), "acme", u.ID, "/settings")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	st, err := f.svc.states.Verify(parsed.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, ModeLink, st.Mode)
	assert.Equal(t, u.ID, st.UserID)
	assert.Equal(t, "/settings", st.Redirect)
}

func TestStateSingleUse(t *testing.T) {
	f := newFixture(t, nil, false)
	raw := f.stateFor(t, State{Mode: ModeLogin, Slug: "acme"})

	_, err := f.svc.states.Verify(raw)
	require.NoError(t, err)
	_, err = f.svc.states.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateRejectsGarbage(t *testing.T) {
	f := newFixture(t, nil, false)
	for _, raw := range []string{"", "garbage", "a.b.c"} {
		_, err := f.svc.states.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidState)
	}
}

func TestCallbackSlugMismatch(t *testing.T) {
	f := newFixture(t, map[string]any{"sub": "s1"}, true)
	raw := f.stateFor(t, State{Mode: ModeLogin, Slug: "other"})

	_, err := f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCallbackAutoCreatesUser(t *testing.T) {
	f := newFixture(t, map[string]any{
		"sub":   "acme-123",
		"email": "nora@example.com",
		"name":  "Nora",
	}, true)
	raw := f.stateFor(t, State{Mode: ModeLogin, Slug: "acme"})

	res, err := f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, ModeLogin, res.Mode)
	require.NotNil(t, res.Login)
	require.NotNil(t, res.Login.Tokens)

	u, err := f.st.Users.GetByEmail(context.Background(), "nora@example.com")
	require.NoError(t, err)
	assert.Empty(t, u.PasswordHash)
	assert.True(t, u.Active)

	link, err := f.st.Identities.GetBySubject(context.Background(), f.prov.ID, "acme-123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, link.UserID)
	require.NotNil(t, link.RefreshTokenEnc)
	dec, err := f.box.Decrypt(*link.RefreshTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "upstream-refresh", dec)
}

func TestCallbackExistingLinkLogsIn(t *testing.T) {
	f := newFixture(t, map[string]any{"sub": "acme-123"}, false)
	u, err := f.st.Users.Create(context.Background(), repository.CreateUserInput{
		Username: "nora", Email: "nora@example.com", Active: true, Approved: true,
	})
	require.NoError(t, err)
	_, err = f.st.Identities.Create(context.Background(), &repository.IdentityLink{
		UserID: u.ID, ProviderID: f.prov.ID, Subject: "acme-123",
	})
	require.NoError(t, err)

	raw := f.stateFor(t, State{Mode: ModeLogin, Slug: "acme"})
	res, err := f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.UserID)
	require.NotNil(t, res.Login.Tokens)

	link, err := f.st.Identities.GetBySubject(context.Background(), f.prov.ID, "acme-123")
	require.NoError(t, err)
	assert.NotNil(t, link.LastLogin)
}

func TestCallbackUnknownIdentityWithoutAutoCreate(t *testing.T) {
	f := newFixture(t, map[string]any{"sub": "stranger"}, false)
	raw := f.stateFor(t, State{Mode: ModeLogin, Slug: "acme"})

	_, err := f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestCallbackEmailCollision(t *testing.T) {
	f := newFixture(t, map[string]any{"sub": "acme-9", "email": "nora@example.com"}, true)
	_, err := f.st.Users.Create(context.Background(), repository.CreateUserInput{
		Username: "nora", Email: "nora@example.com", Active: true, Approved: true,
	})
	require.NoError(t, err)

	raw := f.stateFor(t, State{Mode: ModeLogin, Slug: "acme"})
	_, err = f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestCallbackUpstreamFailure(t *testing.T) {
	f := newFixture(t, map[string]any{"sub": "s1"}, true)
	f.idp.tokenErr = true

	raw := f.stateFor(t, State{Mode: ModeLogin, Slug: "acme"})
	_, err := f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestCallbackLinkMode(t *testing.T) {
	f := newFixture(t, map[string]any{"sub": "acme-77"}, false)
	u, err := f.st.Users.Create(context.Background(), repository.CreateUserInput{
		Username: "leo", Email: "leo@example.com", PasswordHash: "x", Active: true, Approved: true,
	})
	require.NoError(t, err)

	raw := f.stateFor(t, State{Mode: ModeLink, Slug: "acme", UserID: u.ID})
	res, err := f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, ModeLink, res.Mode)
	assert.Nil(t, res.Login)

	link, err := f.st.Identities.GetByUserAndProvider(context.Background(), u.ID, f.prov.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme-77", link.Subject)

	// Repetir el link para el mismo usuario se rechaza.
	raw = f.stateFor(t, State{Mode: ModeLink, Slug: "acme", UserID: u.ID})
	_, err = f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	assert.ErrorIs(t, err, ErrSubjectTaken)
}

func TestCallbackLinkSubjectTaken(t *testing.T) {
	f := newFixture(t, map[string]any{"sub": "acme-77"}, false)
	owner, err := f.st.Users.Create(context.Background(), repository.CreateUserInput{
		Username: "ana", Email: "ana@example.com", Active: true, Approved: true,
	})
	require.NoError(t, err)
	_, err = f.st.Identities.Create(context.Background(), &repository.IdentityLink{
		UserID: owner.ID, ProviderID: f.prov.ID, Subject: "acme-77",
	})
	require.NoError(t, err)

	other, err := f.st.Users.Create(context.Background(), repository.CreateUserInput{
		Username: "leo", Email: "leo@example.com", Active: true, Approved: true,
	})
	require.NoError(t, err)

	raw := f.stateFor(t, State{Mode: ModeLink, Slug: "acme", UserID: other.ID})
	_, err = f.svc.HandleCallback(context.Background(), "acme", "code", raw, auth.RequestMeta{})
	assert.ErrorIs(t, err, ErrSubjectTaken)
}

func TestUnlinkLastAuthMethod(t *testing.T) {
	f := newFixture(t, nil, false)
	// Cuenta solo-SSO: sin password, un único link.
	u, err := f.st.Users.Create(context.Background(), repository.CreateUserInput{
		Username: "solo", Email: "solo@example.com", Active: true, Approved: true,
	})
	require.NoError(t, err)
	_, err = f.st.Identities.Create(context.Background(), &repository.IdentityLink{
		UserID: u.ID, ProviderID: f.prov.ID, Subject: "solo-1",
	})
	require.NoError(t, err)

	err = f.svc.Unlink(context.Background(), u.ID, "acme")
	assert.ErrorIs(t, err, ErrLastAuthMethod)

	// Con password local, el unlink pasa.
	require.NoError(t, f.st.Users.SetPasswordHash(context.Background(), u.ID, "$argon2id$..."))
	require.NoError(t, f.svc.Unlink(context.Background(), u.ID, "acme"))

	_, err = f.st.Identities.GetByUserAndProvider(context.Background(), u.ID, f.prov.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMapProfileOrderedFirstWins(t *testing.T) {
	mapping := map[string][]string{
		"subject":  {"oid", "sub"},
		"username": {"preferred_username", "email"},
	}
	p, err := MapProfile(mapping, map[string]any{
		"sub":   "fallback",
		"oid":   "primary",
		"email": "x@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Subject)
	// preferred_username ausente: cae al siguiente candidato.
	assert.Equal(t, "x@example.com", p.Username)
}

func TestMapProfileDefaults(t *testing.T) {
	p, err := MapProfile(nil, map[string]any{
		"sub":   "s1",
		"login": "octo",
		"email": "octo@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", p.Subject)
	assert.Equal(t, "octo", p.Username)
}

func TestMapProfileNumericSubject(t *testing.T) {
	// IDs numéricos (GitHub) llegan como float64 del JSON.
	p, err := MapProfile(map[string][]string{"subject": {"id"}}, map[string]any{"id": float64(583231)})
	require.NoError(t, err)
	assert.Equal(t, "583231", p.Subject)
}

func TestMapProfileMissingSubject(t *testing.T) {
	_, err := MapProfile(nil, map[string]any{"email": "x@example.com"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "subject"))
}
