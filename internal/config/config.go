// Package config carga la configuración del servicio: YAML + overrides por
// variables de entorno. Los secretos (master key, seed de firma, passwords)
// solo entran por entorno, nunca quedan en el YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env  string `yaml:"env"`
		Name string `yaml:"name"`
		// BaseURL pública, sin barra final: arma links de mail y redirect
		// URIs de los IdPs.
		BaseURL string `yaml:"base_url"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		// TrustProxyHeaders: leer X-Forwarded-For / X-Real-IP. Solo para
		// despliegues con reverse proxy que pisa esos headers; sin proxy,
		// cualquier cliente los falsifica.
		TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
	} `yaml:"server"`

	Storage struct {
		DSN     string `yaml:"dsn"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis. Redis comparte los contadores de rate limiting
		// entre réplicas.
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	JWT struct {
		Issuer string `yaml:"issuer"`
		// SigningSeed: base64(32 bytes), seed Ed25519. Solo por env.
		SigningSeed string        `yaml:"-"`
		AccessTTL   time.Duration `yaml:"access_ttl"`
		RefreshTTL  time.Duration `yaml:"refresh_ttl"`
	} `yaml:"jwt"`

	Security struct {
		// SecretBoxMasterKey: base64(32 bytes). Solo por env.
		SecretBoxMasterKey string `yaml:"-"`
		AdminUsers         []string `yaml:"admin_users"`
		PasswordPolicy     struct {
			MinLength     int  `yaml:"min_length"`
			RequireUpper  bool `yaml:"require_upper"`
			RequireLower  bool `yaml:"require_lower"`
			RequireDigit  bool `yaml:"require_digit"`
			RequireSymbol bool `yaml:"require_symbol"`
		} `yaml:"password_policy"`
	} `yaml:"security"`

	Rate struct {
		// Disabled apaga el limiting completo; el default (false) lo deja
		// activo.
		Disabled bool `yaml:"disabled"`
		// Límites por categoría; 0 usa el default compilado.
		Login    RateBudget `yaml:"login"`
		MFA      RateBudget `yaml:"mfa"`
		Refresh  RateBudget `yaml:"refresh"`
		Signup   RateBudget `yaml:"signup"`
		Password RateBudget `yaml:"password"`
		SSO      RateBudget `yaml:"sso"`
		API      RateBudget `yaml:"api"`
		Admin    RateBudget `yaml:"admin"`
	} `yaml:"rate"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"-"` // solo por env
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"` // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`
}

type RateBudget struct {
	Limit  int64         `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Load lee el YAML (opcional), aplica overrides de entorno, defaults y
// validación. Falla fuerte: un TTL en cero o una key ausente no arranca.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "Stride"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "stride:"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "stride"
	}
	if c.JWT.AccessTTL == 0 {
		c.JWT.AccessTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTTL == 0 {
		c.JWT.RefreshTTL = 720 * time.Hour // 30d
	}
	if c.Security.PasswordPolicy.MinLength == 0 {
		c.Security.PasswordPolicy.MinLength = 10
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Security.SecretBoxMasterKey == "" {
		errs = append(errs, errors.New("config: STRIDE_MASTER_KEY is required"))
	}
	if c.JWT.SigningSeed == "" {
		errs = append(errs, errors.New("config: STRIDE_JWT_SEED is required"))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, errors.New("config: jwt TTLs must be positive"))
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		errs = append(errs, errors.New("config: access_ttl must be shorter than refresh_ttl"))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, errors.New("config: storage.dsn is required"))
	}
	if c.Cache.Kind != "memory" && c.Cache.Kind != "redis" {
		errs = append(errs, fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind))
	}
	if c.Cache.Kind == "redis" && c.Cache.Redis.Addr == "" {
		errs = append(errs, errors.New("config: cache.redis.addr is required for redis cache"))
	}
	if c.App.BaseURL == "" {
		errs = append(errs, errors.New("config: app.base_url is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("APP_BASE_URL"); ok {
		c.App.BaseURL = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvBool("SERVER_TRUST_PROXY_HEADERS"); ok {
		c.Server.TrustProxyHeaders = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvBool("STORAGE_MIGRATE"); ok {
		c.Storage.Migrate = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvDur("JWT_ACCESS_TTL"); ok {
		c.JWT.AccessTTL = v
	}
	if v, ok := getEnvDur("JWT_REFRESH_TTL"); ok {
		c.JWT.RefreshTTL = v
	}
	if v, ok := getEnvBool("RATE_DISABLED"); ok {
		c.Rate.Disabled = v
	}
	if v, ok := getEnvCSV("ADMIN_USERS"); ok {
		c.Security.AdminUsers = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}

	// Secretos: siempre por entorno.
	c.Security.SecretBoxMasterKey = os.Getenv("STRIDE_MASTER_KEY")
	c.JWT.SigningSeed = os.Getenv("STRIDE_JWT_SEED")
	c.SMTP.Password = os.Getenv("SMTP_PASSWORD")
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}
