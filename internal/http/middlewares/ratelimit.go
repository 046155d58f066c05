package middlewares

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	httperrors "github.com/stridelab/stride/internal/http/errors"
	"github.com/stridelab/stride/internal/http/helpers"
	"github.com/stridelab/stride/internal/observability/logger"
	"github.com/stridelab/stride/internal/rate"
)

// WithRateLimit aplica el presupuesto de la categoría por IP de cliente.
// Con guard nil (limiting deshabilitado) es un passthrough. Si el backend
// de limiting falla, el request pasa: degradar disponibilidad por un redis
// caído es peor que perder una ventana de límite.
func WithRateLimit(guard *rate.Guard, cat rate.Category, trustProxy bool) Middleware {
	log := logger.Named("rate")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard == nil {
				next.ServeHTTP(w, r)
				return
			}
			ip := helpers.ClientIP(r, trustProxy)
			res, err := guard.Check(r.Context(), cat, ip)
			if err != nil {
				log.Warn("limiter unavailable", zap.String("category", string(cat)), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			}
			if !res.Allowed {
				log.Warn("rate limit exceeded",
					zap.String("ip", ip),
					zap.String("path", r.URL.Path),
					zap.String("category", string(cat)),
					zap.Int64("limit", res.Limit),
				)
				secs := int(res.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httperrors.WriteError(w, httperrors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
