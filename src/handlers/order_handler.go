package handlers

import (
	"errors"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/amank-23/go-trading-engine/src/engine"
	"github.com/amank-23/go-trading-engine/src/history"
	"github.com/amank-23/go-trading-engine/src/journal"
	"github.com/amank-23/go-trading-engine/src/models"
	"github.com/amank-23/go-trading-engine/src/pipeline"
	"github.com/amank-23/go-trading-engine/src/risk"
)

type OrderHandler struct {
	Pipeline  *pipeline.Pipeline
	Matching  *engine.Engine
	Risk      *risk.Engine
	Tail      *history.Tail
	Journal   *journal.Journal // nil when persistence is disabled
	StartTime time.Time

	ordersMatched atomic.Int64

	latencies    []time.Duration
	latenciesMu  sync.RWMutex
	maxLatencies int
}

func NewOrderHandler(pipe *pipeline.Pipeline, matching *engine.Engine, riskEngine *risk.Engine, tail *history.Tail, jnl *journal.Journal) *OrderHandler {
	maxLatencies := 10000
	if envMax := os.Getenv("METRICS_MAX_LATENCIES"); envMax != "" {
		if parsed, err := strconv.Atoi(envMax); err == nil && parsed > 0 {
			maxLatencies = parsed
		}
	}

	return &OrderHandler{
		Pipeline:     pipe,
		Matching:     matching,
		Risk:         riskEngine,
		Tail:         tail,
		Journal:      jnl,
		StartTime:    time.Now(),
		latencies:    make([]time.Duration, 0, maxLatencies),
		maxLatencies: maxLatencies,
	}
}

func (h *OrderHandler) SubmitOrder(c *fiber.Ctx) error {
	var req models.SubmitOrderRequest

	if err := c.BodyParser(&req); err != nil {
		log.Warn().
			Err(err).
			Str("ip", c.IP()).
			Str("path", c.Path()).
			Msg("Invalid request: malformed JSON")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	startTime := time.Now()

	orderID, result, err := h.Pipeline.Submit(pipeline.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Price:    req.Price,
		Quantity: req.Quantity,
	})

	latency := time.Since(startTime)
	h.recordLatency(latency)

	if err != nil {
		var validationErr *pipeline.ValidationError
		if errors.As(err, &validationErr) {
			log.Warn().
				Err(err).
				Str("symbol", req.Symbol).
				Str("side", req.Side).
				Str("type", req.Type).
				Str("ip", c.IP()).
				Msg("Invalid order request")
			return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
				Error: err.Error(),
			})
		}

		var riskErr *risk.RiskError
		if errors.As(err, &riskErr) {
			log.Warn().
				Str("symbol", riskErr.Symbol).
				Int64("current_position", riskErr.Current).
				Int64("potential_position", riskErr.Potential).
				Int64("position_limit", riskErr.Limit).
				Str("ip", c.IP()).
				Msg("Order rejected: position limit breach")
			return c.Status(fiber.StatusUnprocessableEntity).JSON(models.RiskRejectionResponse{
				Error:             err.Error(),
				Symbol:            riskErr.Symbol,
				CurrentPosition:   riskErr.Current,
				PotentialPosition: riskErr.Potential,
				PositionLimit:     riskErr.Limit,
			})
		}

		log.Error().
			Err(err).
			Str("symbol", req.Symbol).
			Msg("Error matching order")
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error: "Internal server error",
		})
	}

	trades := make([]models.TradeInfo, 0, len(result.Trades))
	for _, trade := range result.Trades {
		trades = append(trades, tradeInfo(trade))
	}

	response := models.SubmitOrderResponse{
		OrderID:           orderID,
		Status:            string(result.Status),
		FilledQuantity:    result.FilledQuantity,
		RemainingQuantity: result.RemainingQuantity,
		Trades:            trades,
	}

	if len(result.Trades) > 0 {
		h.ordersMatched.Add(1)
	}

	log.Info().
		Uint64("order_id", orderID).
		Str("symbol", req.Symbol).
		Str("status", string(result.Status)).
		Int64("filled_quantity", result.FilledQuantity).
		Int64("remaining_quantity", result.RemainingQuantity).
		Int("trades_count", len(result.Trades)).
		Str("ip", c.IP()).
		Msg("Order processed")

	if result.Status == engine.StatusAccepted {
		response.Message = "Order added to book"
		return c.Status(fiber.StatusCreated).JSON(response)
	} else if result.Status == engine.StatusPartialFill {
		return c.Status(fiber.StatusAccepted).JSON(response)
	} else if result.Status == engine.StatusDiscarded {
		response.Message = "Unfilled market order quantity discarded"
		return c.Status(fiber.StatusOK).JSON(response)
	} else {
		return c.Status(fiber.StatusOK).JSON(response)
	}
}

func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	orderID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid order id",
		})
	}

	// edge case: cancelling an unknown or already-gone order is a no-op, not
	// an error, so retried cancels stay safe
	cancelled := h.Pipeline.Cancel(orderID)

	status := "CANCELLED"
	if cancelled {
		log.Info().
			Uint64("order_id", orderID).
			Str("ip", c.IP()).
			Msg("Order cancelled")
	} else {
		status = "UNKNOWN_ORDER"
		log.Debug().
			Uint64("order_id", orderID).
			Str("ip", c.IP()).
			Msg("Cancel order: no live order with this id")
	}

	return c.Status(fiber.StatusOK).JSON(models.CancelOrderResponse{
		OrderID:   orderID,
		Cancelled: cancelled,
		Status:    status,
	})
}

func (h *OrderHandler) GetOrderStatus(c *fiber.Ctx) error {
	orderID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid order id",
		})
	}

	// edge case: terminal orders leave the index, so filled, cancelled and
	// discarded ids all read as not found
	order, exists := h.Matching.GetOrder(orderID)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Order not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(models.OrderStatusResponse{
		OrderID:           order.ID,
		Symbol:            order.Symbol,
		Side:              string(order.Side),
		Type:              string(order.Type),
		Price:             order.Price,
		Quantity:          order.Quantity,
		FilledQuantity:    order.FilledQuantity(),
		RemainingQuantity: order.Remaining,
		Status:            string(order.Status),
		Timestamp:         order.Timestamp,
	})
}

func (h *OrderHandler) GetOrderBook(c *fiber.Ctx) error {
	symbol := c.Params("symbol")

	defaultDepth := 10
	if envDepth := os.Getenv("ORDERBOOK_DEFAULT_DEPTH"); envDepth != "" {
		if parsed, err := strconv.Atoi(envDepth); err == nil && parsed > 0 {
			defaultDepth = parsed
		}
	}

	maxDepth := 1000
	if envMaxDepth := os.Getenv("ORDERBOOK_MAX_DEPTH"); envMaxDepth != "" {
		if parsed, err := strconv.Atoi(envMaxDepth); err == nil && parsed > 0 {
			maxDepth = parsed
		}
	}

	depthStr := c.Query("depth", strconv.Itoa(defaultDepth))
	depth, err := strconv.Atoi(depthStr)
	if err != nil || depth <= 0 {
		depth = defaultDepth
	}

	// edge case: enforce maximum depth limit
	if depth > maxDepth {
		depth = maxDepth
	}

	bids := make([]models.PriceLevelInfo, 0)
	asks := make([]models.PriceLevelInfo, 0)

	// a symbol that never traded reads as an empty book, not an error
	if orderBook, exists := h.Matching.GetOrderBook(symbol); exists {
		bidLevels, askLevels := orderBook.GetDepthSnapshot(depth)
		for _, level := range bidLevels {
			bids = append(bids, models.PriceLevelInfo{Price: level.Price, Quantity: level.Quantity})
		}
		for _, level := range askLevels {
			asks = append(asks, models.PriceLevelInfo{Price: level.Price, Quantity: level.Quantity})
		}
	}

	return c.Status(fiber.StatusOK).JSON(models.OrderBookResponse{
		Symbol:    symbol,
		Timestamp: time.Now().UnixMilli(),
		Bids:      bids,
		Asks:      asks,
	})
}

func (h *OrderHandler) GetPosition(c *fiber.Ctx) error {
	symbol := c.Params("symbol")

	position, exists := h.Risk.GetPosition(symbol)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "No position: symbol has never traded",
		})
	}

	return c.Status(fiber.StatusOK).JSON(models.PositionResponse{
		Symbol:        symbol,
		NetPosition:   position.NetPosition,
		AvgEntryPrice: position.AvgEntryPrice,
		RealizedPnL:   position.RealizedPnL,
		PositionLimit: h.Risk.MaxPosition(),
	})
}

func (h *OrderHandler) GetTrades(c *fiber.Ctx) error {
	limit := parseLimit(c, 50)

	recent := h.Tail.Recent(limit)
	trades := make([]models.TradeInfo, 0, len(recent))
	for _, trade := range recent {
		trades = append(trades, tradeInfo(trade))
	}

	return c.Status(fiber.StatusOK).JSON(models.TradesResponse{
		Count:  len(trades),
		Trades: trades,
	})
}

func (h *OrderHandler) GetPersistedTrades(c *fiber.Ctx) error {
	if h.Journal == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "Trade journal disabled",
		})
	}

	limit := parseLimit(c, 50)

	records, err := h.Journal.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query trade journal")
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error: "Internal server error",
		})
	}

	trades := make([]models.TradeInfo, 0, len(records))
	for _, record := range records {
		trades = append(trades, models.TradeInfo{
			TradeID:           record.TradeID,
			Symbol:            record.Symbol,
			RestingOrderID:    record.RestingOrderID,
			AggressiveOrderID: record.AggressiveOrderID,
			Price:             record.Price,
			Quantity:          record.Quantity,
			TakerSide:         record.TakerSide,
			Timestamp:         record.ExecutedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(models.TradesResponse{
		Count:  len(trades),
		Trades: trades,
	})
}

func (h *OrderHandler) HealthCheck(c *fiber.Ctx) error {
	uptime := time.Since(h.StartTime).Seconds()

	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:          "healthy",
		UptimeSeconds:   int64(uptime),
		OrdersProcessed: h.Pipeline.Stats().Received,
	})
}

func (h *OrderHandler) Metrics(c *fiber.Ctx) error {
	stats := h.Pipeline.Stats()

	var ordersInBook int64
	for _, orderBook := range h.Matching.GetOrderBooksSnapshot() {
		ordersInBook += int64(orderBook.LiveOrders())
	}

	var journalWritten, journalDropped int64
	if h.Journal != nil {
		journalWritten = h.Journal.Written()
		journalDropped = h.Journal.Dropped()
	}

	p50, p99, p999 := h.calculateLatencyPercentiles()
	throughput := h.calculateThroughput()

	return c.Status(fiber.StatusOK).JSON(models.MetricsResponse{
		OrdersReceived:          stats.Received,
		OrdersAdmitted:          stats.Admitted,
		OrdersMatched:           h.ordersMatched.Load(),
		OrdersCancelled:         stats.Cancelled,
		OrdersRejectedMalformed: stats.RejectedMalformed,
		OrdersRejectedRisk:      stats.RejectedRisk,
		OrdersInBook:            ordersInBook,
		TradesExecuted:          int64(h.Matching.TradeCount()),
		JournalWritten:          journalWritten,
		JournalDropped:          journalDropped,
		LatencyP50Ms:            p50,
		LatencyP99Ms:            p99,
		LatencyP999Ms:           p999,
		ThroughputOrdersPerSec:  throughput,
	})
}

func (h *OrderHandler) recordLatency(latency time.Duration) {
	h.latenciesMu.Lock()
	defer h.latenciesMu.Unlock()

	h.latencies = append(h.latencies, latency)

	// edge case: maintain rolling window by removing oldest measurements
	if len(h.latencies) > h.maxLatencies {
		removeCount := len(h.latencies) - h.maxLatencies
		h.latencies = h.latencies[removeCount:]
	}
}

func (h *OrderHandler) calculateLatencyPercentiles() (p50, p99, p999 float64) {
	h.latenciesMu.RLock()
	defer h.latenciesMu.RUnlock()

	if len(h.latencies) == 0 {
		return 0, 0, 0
	}

	latenciesCopy := make([]time.Duration, len(h.latencies))
	copy(latenciesCopy, h.latencies)

	sort.Slice(latenciesCopy, func(i, j int) bool {
		return latenciesCopy[i] < latenciesCopy[j]
	})

	p50Index := int(float64(len(latenciesCopy)) * 0.50)
	p99Index := int(float64(len(latenciesCopy)) * 0.99)
	p999Index := int(float64(len(latenciesCopy)) * 0.999)

	// edge case: ensure indices are within bounds
	if p50Index >= len(latenciesCopy) {
		p50Index = len(latenciesCopy) - 1
	}
	if p99Index >= len(latenciesCopy) {
		p99Index = len(latenciesCopy) - 1
	}
	if p999Index >= len(latenciesCopy) {
		p999Index = len(latenciesCopy) - 1
	}

	p50 = float64(latenciesCopy[p50Index].Nanoseconds()) / 1e6
	p99 = float64(latenciesCopy[p99Index].Nanoseconds()) / 1e6
	p999 = float64(latenciesCopy[p999Index].Nanoseconds()) / 1e6

	return p50, p99, p999
}

func (h *OrderHandler) calculateThroughput() float64 {
	uptime := time.Since(h.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}

	return float64(h.Pipeline.Stats().Received) / uptime
}

func parseLimit(c *fiber.Ctx, defaultLimit int) int {
	limitStr := c.Query("limit", strconv.Itoa(defaultLimit))
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	return limit
}

func tradeInfo(trade engine.Trade) models.TradeInfo {
	return models.TradeInfo{
		TradeID:           trade.TradeID,
		Symbol:            trade.Symbol,
		RestingOrderID:    trade.RestingOrderID,
		AggressiveOrderID: trade.AggressiveOrderID,
		Price:             trade.Price,
		Quantity:          trade.Quantity,
		TakerSide:         string(trade.TakerSide),
		Timestamp:         trade.Timestamp,
	}
}
