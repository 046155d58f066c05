// Package rate implementa fixed-window rate limiting con backend redis o
// memoria. Las categorías agrupan endpoints con presupuestos distintos:
// login aguanta mucho menos que lectura de API.
package rate

import (
	"context"
	"time"
)

// Result describe el veredicto de una ventana.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decide si una clave puede seguir pegando en su ventana actual.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (Result, error)
}

// Category agrupa endpoints bajo un mismo presupuesto.
type Category string

const (
	CategoryLogin    Category = "login"
	CategoryMFA      Category = "mfa"
	CategoryRefresh  Category = "refresh"
	CategorySignup   Category = "signup"
	CategoryPassword Category = "password"
	CategorySSO      Category = "sso"
	CategoryAPI      Category = "api"
	CategoryAdmin    Category = "admin"
)

// Budget es el límite de una categoría.
type Budget struct {
	Limit  int64
	Window time.Duration
}

// DefaultBudgets: los endpoints de credenciales son los más apretados; los
// códigos MFA todavía más, porque 6 dígitos se fuerzan por volumen.
var DefaultBudgets = map[Category]Budget{
	CategoryLogin:    {Limit: 10, Window: time.Minute},
	CategoryMFA:      {Limit: 5, Window: time.Minute},
	CategoryRefresh:  {Limit: 30, Window: time.Minute},
	CategorySignup:   {Limit: 5, Window: time.Hour},
	CategoryPassword: {Limit: 5, Window: time.Hour},
	CategorySSO:      {Limit: 20, Window: time.Minute},
	CategoryAPI:      {Limit: 300, Window: time.Minute},
	CategoryAdmin:    {Limit: 60, Window: time.Minute},
}

// Guard ata un Limiter a un juego de presupuestos.
type Guard struct {
	limiter Limiter
	budgets map[Category]Budget
}

func NewGuard(l Limiter, budgets map[Category]Budget) *Guard {
	if budgets == nil {
		budgets = DefaultBudgets
	}
	return &Guard{limiter: l, budgets: budgets}
}

// Check aplica el presupuesto de la categoría a la clave (normalmente la IP
// del cliente). Una categoría sin presupuesto configurado no limita.
func (g *Guard) Check(ctx context.Context, cat Category, key string) (Result, error) {
	b, ok := g.budgets[cat]
	if !ok || b.Limit <= 0 {
		return Result{Allowed: true}, nil
	}
	return g.limiter.Allow(ctx, string(cat)+":"+key, b.Limit, b.Window)
}
