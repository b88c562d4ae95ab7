package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/vetsync/api/responses"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

// RateLimiterStore counts hits per scope in a fixed window.
type RateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// TriggerRateLimitPolicy throttles manual sync triggers shared by every daemon on the same Redis.
type TriggerRateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int64
}

func NewTriggerRateLimitPolicy(name string, window time.Duration, limit int) TriggerRateLimitPolicy {
	return TriggerRateLimitPolicy{
		name:   strings.ToLower(strings.TrimSpace(name)),
		window: window,
		limit:  int64(limit),
	}
}

func (p TriggerRateLimitPolicy) enabled() bool {
	return p.window > 0 && p.limit > 0
}

func (p TriggerRateLimitPolicy) scope() string {
	if p.name == "" {
		return "trigger"
	}
	return "trigger:" + p.name
}

// TriggerRateLimit rejects requests beyond the policy's fixed window with 429.
// Without a store (no Redis configured) the handler is returned unchanged.
func TriggerRateLimit(policy TriggerRateLimitPolicy, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			allowed, count, err := store.FixedWindowAllow(ctx, policy.scope(), policy.limit, policy.window)
			if err != nil {
				// Redis being down must not block manual syncs.
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "trigger.rate_limit.unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy":         policy.scope(),
						"attempts":       count,
						"limit":          policy.limit,
						"window_seconds": int(policy.window.Seconds()),
					}), "trigger.rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
