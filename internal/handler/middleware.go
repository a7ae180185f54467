package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

var errTooManyRequests = errors.New("too many requests")

// APIChecker is the part of the limiter used to throttle HTTP traffic.
type APIChecker interface {
	CheckAPI(ctx context.Context, identifier string) (ratelimit.Decision, error)
	Policy(t ratelimit.Type) (ratelimit.Policy, bool)
}

// APIThrottle counts every request against the api_general policy of the
// client IP and rejects it with 429 once the policy blocks.
func APIThrottle(limiter APIChecker, logger *zap.Logger) func(http.Handler) http.Handler {
	limit := 0
	if p, ok := limiter.Policy(ratelimit.TypeAPIGeneral); ok {
		limit = p.MaxAttempts
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			decision, err := limiter.CheckAPI(r.Context(), ip)
			if err != nil {
				// Misconfiguration must not take the API down.
				logger.Error("API throttle check failed", util.ErrorField(err), util.String("ip", ip))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(decision.ResetTime))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.ResetTime))
				logger.Info("API request throttled",
					util.String("ip", ip),
					util.String("path", r.URL.Path),
					util.Int("reset_seconds", decision.ResetTime))
				writeJSON(w, http.StatusTooManyRequests, Response{
					Success: false,
					Data:    decision,
					Error:   errTooManyRequests.Error(),
					Message: "Rate limit exceeded, retry after " + strconv.Itoa(decision.ResetTime) + " seconds",
				}, logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr; middleware.RealIP may already
// have replaced it with a bare address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired) // 426
			_, _ = w.Write([]byte(`{"success":false,"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
