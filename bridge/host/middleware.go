package host

import (
	"time"

	"github.com/swdunlop/html-go/hog"
	"golang.org/x/time/rate"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// Logging returns middleware that logs each request's method and latency.
func Logging() func(Handler) Handler {
	return func(next Handler) Handler {
		return func(ctx *Scope) {
			started := time.Now()
			next(ctx)
			hog.From(ctx).Info().
				Str(`method`, ctx.Method).
				Int64(`latency_ms`, time.Since(started).Milliseconds()).
				Msg(`bridge request`)
		}
	}
}

// RateLimit returns token-bucket middleware shared by every connection of the
// handler.  Saturated calls fail with CodeRateLimited; saturated
// notifications are dropped, since they have no reply channel.
func RateLimit(r float64, burst int) func(Handler) Handler {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Handler) Handler {
		return func(ctx *Scope) {
			if !limiter.Allow() {
				if len(ctx.ID) != 0 {
					_ = ctx.Fail(protocol.CodeRateLimited, `rate limit exceeded`)
				}
				return
			}
			next(ctx)
		}
	}
}
