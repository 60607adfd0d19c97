package pipeline

import (
	"strings"
	"sync/atomic"

	"github.com/amank-23/go-trading-engine/src/engine"
	"github.com/amank-23/go-trading-engine/src/history"
	"github.com/amank-23/go-trading-engine/src/risk"
)

// OrderRequest is one admission attempt, whether it arrived over HTTP or
// from the market-data feed. Side and Type tokens are case-insensitive.
type OrderRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Price    int64  `json:"price"` // price in cents, required for LIMIT, 0 for MARKET
	Quantity int64  `json:"quantity"`
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Pipeline is the single admission path: validate, risk-check, allocate the
// order id, hand to the matcher. It also owns the trade-sink fan-out, so
// every fill updates the house position and the trade tail before any extra
// consumers see it.
type Pipeline struct {
	matching *engine.Engine
	risk     *risk.Engine
	tail     *history.Tail

	orderIDs atomic.Uint64

	received          atomic.Int64
	admitted          atomic.Int64
	rejectedMalformed atomic.Int64
	rejectedRisk      atomic.Int64
	cancelled         atomic.Int64
}

// New wires the fan-out sink into the matching engine. Extra sinks run after
// risk and history, in registration order; they must not block.
func New(matching *engine.Engine, riskEngine *risk.Engine, tail *history.Tail, extra ...engine.TradeSink) *Pipeline {
	p := &Pipeline{
		matching: matching,
		risk:     riskEngine,
		tail:     tail,
	}

	matching.RegisterTradeSink(func(trade engine.Trade) {
		riskEngine.OnTrade(trade, trade.TakerSide, trade.Symbol)
		tail.Append(trade)
		for _, sink := range extra {
			sink(trade)
		}
	})

	return p
}

// Submit runs the admission pipeline. On success the allocated order id and
// the match outcome are returned; on rejection the error is a
// *ValidationError or a *risk.RiskError and the matcher never saw the order.
func (p *Pipeline) Submit(req OrderRequest) (uint64, *engine.MatchResult, error) {
	p.received.Add(1)

	symbol, side, orderType, err := normalize(&req)
	if err != nil {
		p.rejectedMalformed.Add(1)
		return 0, nil, err
	}

	if err := p.risk.CheckOrder(symbol, side, req.Quantity); err != nil {
		p.rejectedRisk.Add(1)
		return 0, nil, err
	}

	price := req.Price
	if orderType == engine.TypeMarket {
		price = 0
	}

	orderID := p.orderIDs.Add(1)
	order := engine.NewOrder(orderID, symbol, side, orderType, price, req.Quantity)

	result, err := p.matching.AddOrder(order)
	if err != nil {
		p.rejectedMalformed.Add(1)
		return orderID, nil, err
	}

	p.admitted.Add(1)
	return orderID, result, nil
}

// Cancel forwards to the matcher and counts the cancels that landed. It is
// idempotent like the book operation underneath.
func (p *Pipeline) Cancel(orderID uint64) bool {
	if p.matching.CancelOrder(orderID) {
		p.cancelled.Add(1)
		return true
	}
	return false
}

type Stats struct {
	Received          int64
	Admitted          int64
	RejectedMalformed int64
	RejectedRisk      int64
	Cancelled         int64
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:          p.received.Load(),
		Admitted:          p.admitted.Load(),
		RejectedMalformed: p.rejectedMalformed.Load(),
		RejectedRisk:      p.rejectedRisk.Load(),
		Cancelled:         p.cancelled.Load(),
	}
}

func normalize(req *OrderRequest) (string, engine.OrderSide, engine.OrderType, error) {
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		return "", "", "", &ValidationError{Message: "Invalid order: symbol is required"}
	}

	var side engine.OrderSide
	switch strings.ToUpper(strings.TrimSpace(req.Side)) {
	case string(engine.SideBuy):
		side = engine.SideBuy
	case string(engine.SideSell):
		side = engine.SideSell
	default:
		return "", "", "", &ValidationError{Message: "Invalid order: side must be BUY or SELL"}
	}

	var orderType engine.OrderType
	switch strings.ToUpper(strings.TrimSpace(req.Type)) {
	case string(engine.TypeLimit):
		orderType = engine.TypeLimit
	case string(engine.TypeMarket):
		orderType = engine.TypeMarket
	default:
		return "", "", "", &ValidationError{Message: "Invalid order: type must be LIMIT or MARKET"}
	}

	if req.Quantity <= 0 {
		return "", "", "", &ValidationError{Message: "Invalid order: quantity must be positive"}
	}

	// edge case: zero is a legal limit price; only negative is malformed
	if orderType == engine.TypeLimit && req.Price < 0 {
		return "", "", "", &ValidationError{Message: "Invalid order: price must not be negative for LIMIT orders"}
	}

	return symbol, side, orderType, nil
}
