package risk

import (
	"fmt"
	"sync"

	"github.com/amank-23/go-trading-engine/src/engine"
)

// Position is the house book in one symbol. NetPosition is signed units
// (long positive). AvgEntryPrice and RealizedPnL are in cents; they are
// float64 because the average basis of a stacked position is fractional.
type Position struct {
	NetPosition   int64   `json:"net_position"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// RiskError reports a pre-trade rejection: admitting the order could move
// the symbol's absolute net position past the configured limit.
type RiskError struct {
	Symbol    string
	Current   int64
	Potential int64
	Limit     int64
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("position limit breach for %s: potential position %d exceeds limit %d (current %d)",
		e.Symbol, e.Potential, e.Limit, e.Current)
}

// Engine tracks per-symbol positions and enforces the position limit before
// orders reach the matcher. The check is conservative: it assumes the full
// original quantity executes.
type Engine struct {
	mu          sync.RWMutex
	positions   map[string]*Position
	maxPosition int64
}

func NewEngine(maxPosition int64) *Engine {
	return &Engine{
		positions:   make(map[string]*Position),
		maxPosition: maxPosition,
	}
}

// MaxPosition reports the configured per-symbol absolute limit.
func (e *Engine) MaxPosition() int64 {
	return e.maxPosition
}

// CheckOrder approves or rejects an order before admission. Worst case is
// assumed: the entire quantity fills on our side.
//
// edge case: the check and the later fills are not one atomic section, so a
// concurrent fill between check and insertion can land past the limit; the
// limit is advisory at that boundary and enforced again on the next check.
func (e *Engine) CheckOrder(symbol string, side engine.OrderSide, quantity int64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var current int64
	if pos, exists := e.positions[symbol]; exists {
		current = pos.NetPosition
	}

	delta := quantity
	if side == engine.SideSell {
		delta = -quantity
	}

	potential := current + delta
	if abs64(potential) > e.maxPosition {
		return &RiskError{
			Symbol:    symbol,
			Current:   current,
			Potential: potential,
			Limit:     e.maxPosition,
		}
	}
	return nil
}

// OnTrade posts one fill to the house position. ourSide is the side the
// house is deemed to have traded; the default attribution upstream is the
// taker side of the fill.
func (e *Engine) OnTrade(trade engine.Trade, ourSide engine.OrderSide, symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, exists := e.positions[symbol]
	if !exists {
		pos = &Position{}
		e.positions[symbol] = pos
	}

	delta := trade.Quantity
	if ourSide == engine.SideSell {
		delta = -trade.Quantity
	}
	price := float64(trade.Price)
	current := pos.NetPosition

	// Same direction (or flat): stack onto the position at a
	// quantity-weighted average basis.
	if current == 0 || (current > 0) == (delta > 0) {
		oldQty := float64(abs64(current))
		addQty := float64(abs64(delta))
		pos.AvgEntryPrice = (pos.AvgEntryPrice*oldQty + price*addQty) / (oldQty + addQty)
		pos.NetPosition = current + delta
		return
	}

	// Opposite direction: realize P&L on the closed quantity, then either
	// shrink, flatten, or flip.
	closed := abs64(delta)
	if abs64(current) < closed {
		closed = abs64(current)
	}
	if current > 0 {
		pos.RealizedPnL += float64(closed) * (price - pos.AvgEntryPrice)
	} else {
		pos.RealizedPnL += float64(closed) * (pos.AvgEntryPrice - price)
	}

	pos.NetPosition = current + delta
	switch {
	case pos.NetPosition == 0:
		// edge case: a flat position has no basis
		pos.AvgEntryPrice = 0
	case (pos.NetPosition > 0) != (current > 0):
		// the flip residual opens a fresh position at the fill price
		pos.AvgEntryPrice = price
	}
}

// GetPosition returns a value copy; ok is false for symbols that never traded.
func (e *Engine) GetPosition(symbol string) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos, exists := e.positions[symbol]
	if !exists {
		return Position{}, false
	}
	return *pos, true
}

// GetPositionsSnapshot copies every tracked position.
func (e *Engine) GetPositionsSnapshot() map[string]Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snapshot := make(map[string]Position, len(e.positions))
	for symbol, pos := range e.positions {
		snapshot[symbol] = *pos
	}
	return snapshot
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
