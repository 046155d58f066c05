package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stridelab/stride/internal/auth"
	"github.com/stridelab/stride/internal/config"
	"github.com/stridelab/stride/internal/email"
	stridehttp "github.com/stridelab/stride/internal/http"
	"github.com/stridelab/stride/internal/jwt"
	"github.com/stridelab/stride/internal/observability/logger"
	"github.com/stridelab/stride/internal/rate"
	"github.com/stridelab/stride/internal/security/password"
	"github.com/stridelab/stride/internal/security/secretbox"
	"github.com/stridelab/stride/internal/sso"
	"github.com/stridelab/stride/internal/store/pg"
)

const sweepInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// .env opcional: en containers la config viene del entorno real.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "ruta a config.yaml (opcional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, ServiceName: "stride"})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Material criptográfico ---
	box, err := secretbox.NewFromBase64(cfg.Security.SecretBoxMasterKey)
	if err != nil {
		return fmt.Errorf("master key: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(cfg.JWT.SigningSeed)
	if err != nil {
		return fmt.Errorf("jwt seed: %w", err)
	}
	tokens, err := jwt.NewManager(cfg.JWT.Issuer, seed, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	if err != nil {
		return err
	}

	// --- Storage ---
	store, err := pg.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if cfg.Storage.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	// --- Rate limiting ---
	var limiter rate.Limiter
	switch cfg.Cache.Kind {
	case "redis":
		client := rdb.NewClient(&rdb.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		limiter = rate.NewRedisLimiter(client, cfg.Cache.Redis.Prefix+"rate:")
	default:
		limiter = rate.NewMemoryLimiter()
	}
	var guard *rate.Guard
	if cfg.Rate.Disabled {
		log.Warn("rate limiting disabled")
	} else {
		guard = rate.NewGuard(limiter, budgetsFromConfig(cfg))
	}

	// --- Email ---
	var sender email.Sender
	if cfg.SMTP.Host != "" {
		smtp := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		smtp.TLSMode = cfg.SMTP.TLS
		smtp.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
		sender = smtp
	} else {
		log.Warn("smtp not configured, emails will be logged only")
		sender = email.LogSender{}
	}
	mailer := email.NewMailer(sender, cfg.App.Name, cfg.App.BaseURL)

	// --- Servicios ---
	policy := password.Policy{
		MinLength:     cfg.Security.PasswordPolicy.MinLength,
		RequireUpper:  cfg.Security.PasswordPolicy.RequireUpper,
		RequireLower:  cfg.Security.PasswordPolicy.RequireLower,
		RequireDigit:  cfg.Security.PasswordPolicy.RequireDigit,
		RequireSymbol: cfg.Security.PasswordPolicy.RequireSymbol,
	}
	mfaSvc := auth.NewMFAService(store.Users, box, cfg.App.Name, logger.Named("mfa"))
	authSvc := auth.NewService(store.Users, store.Sessions, tokens, mfaSvc, cfg.Security.AdminUsers, logger.Named("auth"))
	accountSvc := auth.NewAccountService(store.Users, store.EmailTokens, store.Sessions, mailer, policy, logger.Named("accounts"))
	ssoSvc := sso.NewService(store.Providers, store.Identities, store.Users, authSvc, box, tokens, cfg.App.BaseURL, logger.Named("sso"))

	srv, err := stridehttp.NewServer(stridehttp.Deps{
		Auth:         authSvc,
		Accounts:     accountSvc,
		SSO:          ssoSvc,
		Tokens:       tokens,
		Guard:        guard,
		Readiness:    store.Pool.Ping,
		Addr:         cfg.Server.Addr,
		SecureCookie: cfg.App.Env != "dev",
		CookieDomain: "",
		TrustProxy:   cfg.Server.TrustProxyHeaders,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		authSvc.SweepSessions(ctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		sweepTokens(ctx, accountSvc, log)
		return nil
	})

	log.Info("stride up",
		zap.String("addr", cfg.Server.Addr),
		zap.String("env", cfg.App.Env),
		zap.String("cache", cfg.Cache.Kind),
	)
	return g.Wait()
}

func sweepTokens(ctx context.Context, accounts *auth.AccountService, log *zap.Logger) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := accounts.SweepTokens(ctx)
			if err != nil {
				log.Error("email token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("email tokens swept", zap.Int("count", n))
			}
		}
	}
}

// budgetsFromConfig parte de los defaults compilados y pisa solo las
// categorías que el YAML define completas (límite y ventana).
func budgetsFromConfig(cfg *config.Config) map[rate.Category]rate.Budget {
	budgets := make(map[rate.Category]rate.Budget, len(rate.DefaultBudgets))
	for cat, b := range rate.DefaultBudgets {
		budgets[cat] = b
	}
	overrides := map[rate.Category]config.RateBudget{
		rate.CategoryLogin:    cfg.Rate.Login,
		rate.CategoryMFA:      cfg.Rate.MFA,
		rate.CategoryRefresh:  cfg.Rate.Refresh,
		rate.CategorySignup:   cfg.Rate.Signup,
		rate.CategoryPassword: cfg.Rate.Password,
		rate.CategorySSO:      cfg.Rate.SSO,
		rate.CategoryAPI:      cfg.Rate.API,
		rate.CategoryAdmin:    cfg.Rate.Admin,
	}
	for cat, o := range overrides {
		if o.Limit > 0 && o.Window > 0 {
			budgets[cat] = rate.Budget{Limit: o.Limit, Window: o.Window}
		}
	}
	return budgets
}
