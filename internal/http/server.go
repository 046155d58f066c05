// Package http expone la API del servicio: autenticación local, MFA,
// federación de identidad y superficie admin.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/auth"
	"github.com/stridelab/stride/internal/http/helpers"
	"github.com/stridelab/stride/internal/http/middlewares"
	"github.com/stridelab/stride/internal/jwt"
	"github.com/stridelab/stride/internal/observability/logger"
	"github.com/stridelab/stride/internal/rate"
	"github.com/stridelab/stride/internal/sso"
)

// csrfExemptPaths: bootstrap del flujo browser; corren antes de tener
// cookie CSRF. El refresh también queda exento: su cookie es SameSite
// Strict y el token rota en cada uso. El resto de los POST browser pasan
// por double-submit.
var csrfExemptPaths = []string{
	"/v1/auth/login",
	"/v1/auth/mfa/verify",
	"/v1/auth/refresh",
	"/v1/auth/signup",
	"/v1/auth/signup/resend",
	"/v1/auth/password/forgot",
	"/v1/auth/password/reset",
}

// Deps agrupa lo que el server necesita ya construido.
type Deps struct {
	Auth     *auth.Service
	Accounts *auth.AccountService
	SSO      *sso.Service
	Tokens   *jwt.Manager
	Guard    *rate.Guard
	// Readiness chequea dependencias (pool de DB) para /readyz.
	Readiness func(ctx context.Context) error

	Addr         string
	SecureCookie bool
	CookieDomain string
	// TrustProxy habilita leer X-Forwarded-For / X-Real-IP. Solo con un
	// reverse proxy adelante que los pise.
	TrustProxy bool
}

// Server es la capa HTTP completa.
type Server struct {
	deps    Deps
	cookies helpers.CookieWriter
	log     *zap.Logger
	http    *http.Server
}

func NewServer(deps Deps) (*Server, error) {
	s := &Server{
		deps:    deps,
		cookies: helpers.CookieWriter{Secure: deps.SecureCookie, Domain: deps.CookieDomain},
		log:     logger.Named("server"),
	}
	metricsHandler, err := RegisterMetrics(nil)
	if err != nil {
		return nil, err
	}
	s.http = &http.Server{
		Addr:              deps.Addr,
		Handler:           s.router(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) router(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middlewares.WithRequestID(),
		middlewares.WithRecover(),
		middlewares.WithLogging(),
		withMetrics(),
		middlewares.WithCSRF(middlewares.CSRFConfig{ExemptPaths: csrfExemptPaths}),
	)

	limited := func(cat rate.Category) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return middlewares.WithRateLimit(s.deps.Guard, cat, s.deps.TrustProxy)(next)
		}
	}
	authed := func(next http.Handler) http.Handler {
		return middlewares.WithAuth(s.deps.Tokens)(next)
	}
	admin := func(next http.Handler) http.Handler {
		return middlewares.RequireScopes("admin")(next)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		// Presupuesto global por defecto; las categorías específicas de cada
		// ruta se suman encima.
		r.Use(limited(rate.CategoryAPI))

		r.Get("/csrf", s.handleCSRFMint)

		r.Route("/auth", func(r chi.Router) {
			r.With(limited(rate.CategoryLogin)).Post("/login", s.handleLogin)
			r.With(limited(rate.CategoryMFA)).Post("/mfa/verify", s.handleMFAVerify)
			r.With(limited(rate.CategoryRefresh)).Post("/refresh", s.handleRefresh)
			r.With(limited(rate.CategoryRefresh)).Post("/logout", s.handleLogout)

			r.With(limited(rate.CategorySignup)).Post("/signup", s.handleSignup)
			r.With(limited(rate.CategorySignup)).Post("/signup/resend", s.handleSignupResend)
			r.Get("/signup/confirm", s.handleSignupConfirm)

			r.With(limited(rate.CategoryPassword)).Post("/password/forgot", s.handlePasswordForgot)
			r.With(limited(rate.CategoryPassword)).Post("/password/reset", s.handlePasswordReset)
			r.With(authed).Post("/password/change", s.handlePasswordChange)
		})

		r.Route("/mfa", func(r chi.Router) {
			r.Use(authed)
			r.Get("/status", s.handleMFAStatus)
			r.Post("/setup", s.handleMFASetup)
			r.With(limited(rate.CategoryMFA)).Post("/enable", s.handleMFAEnable)
			r.With(limited(rate.CategoryMFA)).Post("/disable", s.handleMFADisable)
		})

		r.Route("/idp", func(r chi.Router) {
			r.Use(limited(rate.CategorySSO))
			r.Get("/{slug}/login", s.handleIdPLogin)
			r.Get("/callback/{slug}", s.handleIdPCallback)
			r.With(authed).Get("/links", s.handleIdPLinks)
			r.With(authed).Post("/{slug}/link", s.handleIdPLink)
			r.With(authed).Delete("/{slug}/link", s.handleIdPUnlink)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(limited(rate.CategoryAdmin), authed, admin)
			r.Get("/providers", s.handleProviderList)
			r.Post("/providers", s.handleProviderCreate)
			r.Get("/providers/{id}", s.handleProviderGet)
			r.Put("/providers/{id}", s.handleProviderUpdate)
			r.Delete("/providers/{id}", s.handleProviderDelete)
			r.Get("/users/{id}/sessions", s.handleUserSessions)
			r.Delete("/users/{id}/sessions", s.handleUserSessionsRevoke)
		})
	})

	return r
}

// Run levanta el listener y apaga ordenado cuando el contexto muere.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down http server")
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler expone el router armado; lo usan los tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }
