package middleware

import (
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/eficia/eficia-api/internal/pkg/logger"
	"github.com/eficia/eficia-api/internal/pkg/response"
)

// NewLimiter builds a limiter from a formatted rate such as "60-M".
// Counters live in Redis when a client is given, in memory otherwise.
func NewLimiter(rate string, client *redis.Client, prefix string) (*limiter.Limiter, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	if client != nil {
		store, err = redisstore.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
		if err != nil {
			return nil, err
		}
	} else {
		store = memorystore.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix})
	}

	return limiter.New(store, r), nil
}

// RateLimit rejects clients that exceeded the limiter's rate with 429.
func RateLimit(l *limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			lctx, err := l.Get(r.Context(), ip)
			if err != nil {
				// Limiter storage is down: let the request through.
				logger.FromContext(r.Context()).Error().Err(err).Str("ip", ip).Msg("Rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))

			if lctx.Reached {
				logger.FromContext(r.Context()).Warn().
					Str("ip", ip).
					Int64("limit", lctx.Limit).
					Msg("Rate limit exceeded")
				response.TooManyRequests(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
