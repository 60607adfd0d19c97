package models

type SubmitOrderRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Price    int64  `json:"price"` // price in cents, required for LIMIT, 0 for MARKET
	Quantity int64  `json:"quantity"`
}

type SubmitOrderResponse struct {
	OrderID           uint64      `json:"order_id"`
	Status            string      `json:"status"`
	Message           string      `json:"message,omitempty"`
	FilledQuantity    int64       `json:"filled_quantity"`
	RemainingQuantity int64       `json:"remaining_quantity"`
	Trades            []TradeInfo `json:"trades,omitempty"`
}

type TradeInfo struct {
	TradeID           uint64 `json:"trade_id"`
	Symbol            string `json:"symbol"`
	RestingOrderID    uint64 `json:"resting_order_id"`
	AggressiveOrderID uint64 `json:"aggressive_order_id"`
	Price             int64  `json:"price"` // price in cents
	Quantity          int64  `json:"quantity"`
	TakerSide         string `json:"taker_side"`
	Timestamp         int64  `json:"timestamp"` // unix timestamp in milliseconds
}

type CancelOrderResponse struct {
	OrderID   uint64 `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	Status    string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// RiskRejectionResponse explains a position-limit refusal: what the book
// already carries, what the order could have made it, and the cap.
type RiskRejectionResponse struct {
	Error             string `json:"error"`
	Symbol            string `json:"symbol"`
	CurrentPosition   int64  `json:"current_position"`
	PotentialPosition int64  `json:"potential_position"`
	PositionLimit     int64  `json:"position_limit"`
}

type OrderBookResponse struct {
	Symbol    string           `json:"symbol"`
	Timestamp int64            `json:"timestamp"` // unix timestamp in milliseconds
	Bids      []PriceLevelInfo `json:"bids"`      // sorted descending (highest first)
	Asks      []PriceLevelInfo `json:"asks"`      // sorted ascending (lowest first)
}

type PriceLevelInfo struct {
	Price    int64 `json:"price"`    // price in cents
	Quantity int64 `json:"quantity"` // aggregated quantity at this price
}

type OrderStatusResponse struct {
	OrderID           uint64 `json:"order_id"`
	Symbol            string `json:"symbol"`
	Side              string `json:"side"`
	Type              string `json:"type"`
	Price             int64  `json:"price"` // price in cents
	Quantity          int64  `json:"quantity"`
	FilledQuantity    int64  `json:"filled_quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	Status            string `json:"status"`
	Timestamp         int64  `json:"timestamp"` // unix timestamp in milliseconds
}

type PositionResponse struct {
	Symbol        string  `json:"symbol"`
	NetPosition   int64   `json:"net_position"`
	AvgEntryPrice float64 `json:"avg_entry_price"` // cents, weighted across stacked fills
	RealizedPnL   float64 `json:"realized_pnl"`    // cents
	PositionLimit int64   `json:"position_limit"`
}

type TradesResponse struct {
	Count  int         `json:"count"`
	Trades []TradeInfo `json:"trades"` // newest first
}

type HealthResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	OrdersProcessed int64  `json:"orders_processed"`
}

type MetricsResponse struct {
	OrdersReceived          int64   `json:"orders_received"`
	OrdersAdmitted          int64   `json:"orders_admitted"`
	OrdersMatched           int64   `json:"orders_matched"`
	OrdersCancelled         int64   `json:"orders_cancelled"`
	OrdersRejectedMalformed int64   `json:"orders_rejected_malformed"`
	OrdersRejectedRisk      int64   `json:"orders_rejected_risk"`
	OrdersInBook            int64   `json:"orders_in_book"`
	TradesExecuted          int64   `json:"trades_executed"`
	JournalWritten          int64   `json:"journal_written"`
	JournalDropped          int64   `json:"journal_dropped"`
	LatencyP50Ms            float64 `json:"latency_p50_ms"`
	LatencyP99Ms            float64 `json:"latency_p99_ms"`
	LatencyP999Ms           float64 `json:"latency_p999_ms"`
	ThroughputOrdersPerSec  float64 `json:"throughput_orders_per_sec"`
}
