package middleware

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// TradingHalt gates the whole control plane. While halted every request gets
// 503 so the books stop moving without killing the process; the in-flight
// cap sheds load before the matcher queue builds up.
type TradingHalt struct {
	halted      atomic.Bool
	maxInFlight int64
	inFlight    atomic.Int64
}

func NewTradingHalt(maxInFlight int64) *TradingHalt {
	th := &TradingHalt{
		maxInFlight: maxInFlight,
	}

	if os.Getenv("MAINTENANCE_MODE") == "1" {
		th.halted.Store(true)
		log.Warn().Msg("Trading halted at startup - all requests will return 503")
	}

	return th
}

func (th *TradingHalt) Halt() {
	th.halted.Store(true)
	log.Warn().Msg("Trading halted")
}

func (th *TradingHalt) Resume() {
	th.halted.Store(false)
	log.Info().Msg("Trading resumed")
}

func (th *TradingHalt) IsHalted() bool {
	return th.halted.Load()
}

func (th *TradingHalt) InFlight() int64 {
	return th.inFlight.Load()
}

func (th *TradingHalt) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// edge case: health check always available
		if c.Path() == "/health" {
			return c.Next()
		}

		if th.halted.Load() {
			log.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("ip", c.IP()).
				Msg("Request rejected: trading halted")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "Service unavailable",
				"message": "Trading is currently halted. Please try again later.",
				"code":    503,
			})
		}

		// edge case: shed load once the in-flight cap is reached
		if th.maxInFlight > 0 {
			current := th.inFlight.Load()
			if current >= th.maxInFlight {
				log.Warn().
					Str("path", c.Path()).
					Str("method", c.Method()).
					Int64("in_flight", current).
					Int64("max_in_flight", th.maxInFlight).
					Msg("Request rejected: server overload")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error":   "Service unavailable",
					"message": "The service is currently overloaded. Please try again later.",
					"code":    503,
				})
			}
		}

		th.inFlight.Add(1)
		defer th.inFlight.Add(-1)

		return c.Next()
	}
}

func DefaultTradingHalt() *TradingHalt {
	maxInFlight := int64(0)

	if envMax := os.Getenv("MAX_CONCURRENT_REQUESTS"); envMax != "" {
		if parsed, err := strconv.ParseInt(envMax, 10, 64); err == nil && parsed > 0 {
			maxInFlight = parsed
			log.Info().
				Int64("max_concurrent_requests", maxInFlight).
				Msg("Server overload detection enabled")
		}
	}

	return NewTradingHalt(maxInFlight)
}
