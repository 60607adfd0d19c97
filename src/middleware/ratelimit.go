package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands every caller its own token bucket, keyed by client IP.
// Buckets refill continuously, so a burst followed by a quiet second does not
// lock the caller out the way a fixed window would.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*client),
	}
	go rl.evictIdle()
	return rl
}

func (rl *RateLimiter) getClientID(c *fiber.Ctx) string {
	ip := c.Get("X-Forwarded-For")
	if ip == "" {
		ip = c.Get("X-Real-IP")
	}
	if ip == "" {
		ip = c.IP()
	}
	return ip
}

func (rl *RateLimiter) limiterFor(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.clients[clientID]
	if !exists {
		v = &client{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[clientID] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *RateLimiter) Allow(clientID string) bool {
	return rl.limiterFor(clientID).Allow()
}

// evictIdle drops buckets not seen for a few minutes so the client map does
// not grow without bound.
func (rl *RateLimiter) evictIdle() {
	for {
		time.Sleep(time.Minute)

		rl.mu.Lock()
		for id, v := range rl.clients {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.clients, id)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := rl.getClientID(c)

		if !rl.Allow(clientID) {
			log.Warn().
				Str("client_ip", clientID).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Float64("rps", float64(rl.rps)).
				Int("burst", rl.burst).
				Msg("Rate limit exceeded")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Rate limit exceeded",
				"message": "Too many requests. Please try again later.",
			})
		}

		c.Set("X-RateLimit-Limit", strconv.FormatFloat(float64(rl.rps), 'f', -1, 64))
		c.Set("X-RateLimit-Burst", strconv.Itoa(rl.burst))

		return c.Next()
	}
}
