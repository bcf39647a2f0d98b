package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fcshare/internal/server/database"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// visitor tracks the rate limit state for a single IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	done     chan struct{}
}

const (
	visitorSweepInterval = 5 * time.Minute
	visitorIdleTTL       = 10 * time.Minute
)

// NewRateLimiter creates a rate limiter with the given rate (requests/sec) and burst size.
// Stale visitors are swept until ctx is done.
func NewRateLimiter(ctx context.Context, rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(rl.done)
		ticker := time.NewTicker(visitorSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(time.Now())
			}
		}
	}()

	return rl
}

// Middleware returns an echo middleware function that enforces rate limits.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.limiter(ip).Allow() {
				slog.Warn("rate limit exceeded", "ip", ip, "path", c.Path())
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"detail": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-visitorIdleTTL)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Render errors here so the logged status is the one sent.
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_in", humanize.Bytes(uint64(max(req.ContentLength, 0))),
				"bytes_out", humanize.Bytes(uint64(res.Size)),
			)

			return nil
		}
	}
}

const userContextKey = "fcshare.user"

// IdentityResolver maps an Authorization header to a user.
type IdentityResolver interface {
	Resolve(ctx context.Context, header string, required bool) (*database.User, error)
}

// Authenticate resolves the bearer token on each request and stores the
// caller in the echo context. With required false, requests without a
// token pass through as anonymous; an invalid token is rejected either way.
func Authenticate(resolver IdentityResolver, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := resolver.Resolve(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization), required)
			if err != nil {
				return mapServiceError(c, err)
			}
			if user != nil {
				c.Set(userContextKey, user)
			}
			return next(c)
		}
	}
}

// currentUser returns the authenticated caller, or nil for anonymous requests.
func currentUser(c echo.Context) *database.User {
	user, _ := c.Get(userContextKey).(*database.User)
	return user
}

// formValidator adapts validator/v10 to echo.Validator.
type formValidator struct {
	validate *validator.Validate
}

func newFormValidator() *formValidator {
	return &formValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *formValidator) Validate(i any) error {
	return v.validate.Struct(i)
}
