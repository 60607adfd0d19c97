package routes

import (
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/amank-23/go-trading-engine/src/handlers"
	"github.com/amank-23/go-trading-engine/src/middleware"
)

func SetupRoutes(app *fiber.App, orderHandler *handlers.OrderHandler, authHandler *handlers.AuthHandler) {
	rateLimitDisabled := os.Getenv("RATE_LIMIT_DISABLED") == "1"

	rps := 100.0
	if envRPS := os.Getenv("RATE_LIMIT_RPS"); envRPS != "" {
		if parsed, err := strconv.ParseFloat(envRPS, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}

	burst := 100
	if envBurst := os.Getenv("RATE_LIMIT_BURST"); envBurst != "" {
		if parsed, err := strconv.Atoi(envBurst); err == nil && parsed > 0 {
			burst = parsed
		}
	}

	tradingHalt := middleware.DefaultTradingHalt()
	app.Use(tradingHalt.Middleware())
	app.Use(middleware.RequestLogger())

	api := app.Group("/api/v1")

	if !rateLimitDisabled {
		rateLimiter := middleware.NewRateLimiter(rps, burst)
		api.Use(rateLimiter.Middleware())
	}

	api.Post("/auth/token", authHandler.IssueToken)

	// mutating routes sit behind the token guard; reads stay open
	guard := middleware.RequireAuth(authHandler.Service)
	api.Post("/orders", guard, orderHandler.SubmitOrder)
	api.Delete("/orders/:id", guard, orderHandler.CancelOrder)

	api.Get("/orders/:id", orderHandler.GetOrderStatus)
	api.Get("/orderbook/:symbol", orderHandler.GetOrderBook)
	api.Get("/positions/:symbol", orderHandler.GetPosition)
	api.Get("/trades", orderHandler.GetTrades)
	api.Get("/trades/persisted", orderHandler.GetPersistedTrades)

	app.Get("/health", orderHandler.HealthCheck)
	app.Get("/metrics", orderHandler.Metrics)
}
