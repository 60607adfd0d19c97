package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/amank-23/go-trading-engine/src/auth"
	"github.com/amank-23/go-trading-engine/src/engine"
	"github.com/amank-23/go-trading-engine/src/feed"
	"github.com/amank-23/go-trading-engine/src/handlers"
	"github.com/amank-23/go-trading-engine/src/history"
	"github.com/amank-23/go-trading-engine/src/journal"
	"github.com/amank-23/go-trading-engine/src/logger"
	"github.com/amank-23/go-trading-engine/src/pipeline"
	"github.com/amank-23/go-trading-engine/src/risk"
	"github.com/amank-23/go-trading-engine/src/routes"
	"github.com/amank-23/go-trading-engine/src/stream"
)

func main() {
	logger.InitLogger()
	log := logger.GetLogger()

	log.Info().Msg("Initializing trading engine")

	maxPosition := int64(80)
	if envMax := os.Getenv("RISK_MAX_POSITION"); envMax != "" {
		if parsed, err := strconv.ParseInt(envMax, 10, 64); err == nil && parsed > 0 {
			maxPosition = parsed
		}
	}

	historyCapacity := 50
	if envCap := os.Getenv("TRADE_HISTORY_CAPACITY"); envCap != "" {
		if parsed, err := strconv.Atoi(envCap); err == nil && parsed > 0 {
			historyCapacity = parsed
		}
	}

	riskEngine := risk.NewEngine(maxPosition)
	matching := engine.NewEngine()
	tail := history.NewTail(historyCapacity)

	// one cancellation for every background component: journal writer,
	// stream pump and embedded feed simulator
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	var jnl *journal.Journal
	journalDSN := os.Getenv("JOURNAL_DSN")
	if journalDSN == "" {
		journalDSN = "trading.db"
	}
	if journalDSN != "disabled" {
		journalBuffer := 1024
		if envBuffer := os.Getenv("JOURNAL_BUFFER"); envBuffer != "" {
			if parsed, err := strconv.Atoi(envBuffer); err == nil && parsed > 0 {
				journalBuffer = parsed
			}
		}

		db, err := journal.Open(journalDSN)
		if err != nil {
			// edge case: the venue trades on without a blotter rather than
			// refusing to start
			log.Error().Err(err).Str("dsn", journalDSN).Msg("Failed to open trade journal, persistence disabled")
		} else {
			jnl = journal.New(db, journalBuffer)
			go jnl.Start(rootCtx)
			log.Info().Str("dsn", journalDSN).Int("buffer", journalBuffer).Msg("Trade journal enabled")
		}
	}

	streamAddr := os.Getenv("STREAM_ADDR")
	if streamAddr == "" {
		streamAddr = ":8081"
	}
	snapshotInterval := time.Second
	if envInterval := os.Getenv("STREAM_SNAPSHOT_MS"); envInterval != "" {
		if parsed, err := strconv.Atoi(envInterval); err == nil && parsed > 0 {
			snapshotInterval = time.Duration(parsed) * time.Millisecond
		}
	}
	streamDepth := 10
	if envDepth := os.Getenv("ORDERBOOK_DEFAULT_DEPTH"); envDepth != "" {
		if parsed, err := strconv.Atoi(envDepth); err == nil && parsed > 0 {
			streamDepth = parsed
		}
	}

	streamSrv := stream.NewServer(streamAddr, snapshotInterval, streamDepth, matching, riskEngine, tail)
	go func() {
		if err := streamSrv.Run(rootCtx); err != nil {
			log.Error().Err(err).Str("addr", streamAddr).Msg("Stream server stopped with error")
		}
	}()

	extraSinks := []engine.TradeSink{streamSrv.PublishTrade}
	if jnl != nil {
		extraSinks = append(extraSinks, jnl.Record)
	}
	pipe := pipeline.New(matching, riskEngine, tail, extraSinks...)

	var feedClient *feed.Client
	var ingressDone chan struct{}
	feedURL := os.Getenv("FEED_URL")
	if feedURL == "" {
		simInterval := 800 * time.Millisecond
		if envInterval := os.Getenv("SIM_INTERVAL_MS"); envInterval != "" {
			if parsed, err := strconv.Atoi(envInterval); err == nil && parsed > 0 {
				simInterval = time.Duration(parsed) * time.Millisecond
			}
		}

		simulator := feed.NewSimulator(simInterval)
		url, err := simulator.Serve(rootCtx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to start embedded feed simulator")
		} else {
			feedURL = url
		}
	}
	if feedURL != "" && feedURL != "disabled" {
		client, err := feed.Dial(rootCtx, feedURL)
		if err != nil {
			// edge case: a dead feed leaves the control API fully usable
			log.Error().Err(err).Str("url", feedURL).Msg("Failed to connect to market data feed")
		} else {
			feedClient = client
			ingressDone = make(chan struct{})
			go func() {
				defer close(ingressDone)
				for msg := range feedClient.Messages() {
					_, _, err := pipe.Submit(pipeline.OrderRequest{
						Symbol:   msg.Symbol,
						Side:     msg.Side,
						Type:     msg.Type,
						Price:    msg.Price,
						Quantity: msg.Quantity,
					})
					if err != nil {
						var riskErr *risk.RiskError
						if errors.As(err, &riskErr) {
							log.Warn().
								Str("symbol", riskErr.Symbol).
								Int64("current_position", riskErr.Current).
								Int64("potential_position", riskErr.Potential).
								Int64("position_limit", riskErr.Limit).
								Msg("Feed order rejected: position limit breach")
						} else {
							log.Warn().Err(err).Str("symbol", msg.Symbol).Msg("Feed order rejected")
						}
					}
				}
				log.Info().Msg("Feed ingress drained")
			}()
		}
	}

	var authService *auth.Service
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		tokenTTL := 24 * time.Hour
		if envTTL := os.Getenv("JWT_TTL"); envTTL != "" {
			if parsed, err := time.ParseDuration(envTTL); err == nil && parsed > 0 {
				tokenTTL = parsed
			}
		}

		authService = auth.NewService(secret, tokenTTL)

		apiKey := os.Getenv("API_KEY")
		apiSecret := os.Getenv("API_SECRET")
		if apiKey == "" || apiSecret == "" {
			apiKey = auth.DemoAPIKey
			apiSecret = auth.DemoAPISecret
			log.Warn().Str("api_key", apiKey).Msg("No API credentials configured, registering demo credentials")
		}
		authService.RegisterAPICredentials(apiKey, apiSecret)
		log.Info().Dur("token_ttl", tokenTTL).Msg("API authentication enabled")
	}

	orderHandler := handlers.NewOrderHandler(pipe, matching, riskEngine, tail, jnl)
	authHandler := handlers.NewAuthHandler(authService)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	routes.SetupRoutes(app, orderHandler, authHandler)

	port := ":8080"
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = ":" + envPort
	}

	serverError := make(chan error, 1)

	go func() {
		if err := app.Listen(port); err != nil {
			// edge case: ignore shutdown errors, only report real errors
			errStr := err.Error()
			if errStr != "server is shutting down" {
				serverError <- err
			}
		}
	}()

	select {
	case err := <-serverError:
		log.Fatal().
			Err(err).
			Str("port", port).
			Str("hint", "Port may be already in use. Try: PORT=3000 go run main.go").
			Msg("Server failed to start")
	default:
		log.Info().
			Str("port", port).
			Str("stream_addr", streamAddr).
			Msg("Trading engine started")

		log.Info().
			Strs("endpoints", []string{
				"POST   /api/v1/orders",
				"DELETE /api/v1/orders/:id",
				"GET    /api/v1/orders/:id",
				"GET    /api/v1/orderbook/:symbol",
				"GET    /api/v1/positions/:symbol",
				"GET    /api/v1/trades",
				"GET    /api/v1/trades/persisted",
				"POST   /api/v1/auth/token",
				"GET    /health",
				"GET    /metrics",
				"WS     /ws/trades (stream)",
				"WS     /ws/book (stream)",
			}).
			Msg("API endpoints registered")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	log.Info().Msg("Received shutdown signal, shutting down...")

	shutdownTimeout := 10 * time.Second
	if envTimeout := os.Getenv("SHUTDOWN_TIMEOUT"); envTimeout != "" {
		if parsed, err := time.ParseDuration(envTimeout); err == nil && parsed > 0 {
			shutdownTimeout = parsed
		}
	}

	// stop the feed first so in-flight orders drain through the pipeline
	// before the consumers behind it wind down
	if feedClient != nil {
		feedClient.Close()
		select {
		case <-ingressDone:
		case <-time.After(shutdownTimeout):
			log.Warn().Msg("Feed ingress did not drain in time")
		}
	}

	stop()

	if jnl != nil {
		select {
		case <-jnl.Done():
		case <-time.After(shutdownTimeout):
			log.Warn().Msg("Trade journal did not drain in time")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		// edge case: timeout during shutdown is acceptable
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().
				Dur("timeout", shutdownTimeout).
				Msg("Timeout exceeded, shutting down...")
		} else {
			log.Error().
				Err(err).
				Msg("Error during shutdown")
		}
	} else {
		log.Info().Msg("Shutdown complete")
	}

	logger.CloseLogger()
}
