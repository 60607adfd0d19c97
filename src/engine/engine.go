package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// TradeSink receives every fill the venue produces, synchronously, while the
// originating book's mutex is held. Implementations must return quickly and
// must not call back into the engine.
type TradeSink func(Trade)

// Engine owns one order book per symbol and the venue-wide trade id space.
type Engine struct {
	mu    sync.RWMutex
	books map[string]*OrderBook

	sinkMu sync.RWMutex
	sink   TradeSink

	tradeIDs atomic.Uint64
}

func NewEngine() *Engine {
	return &Engine{
		books: make(map[string]*OrderBook),
	}
}

// RegisterTradeSink installs the fill consumer. At most one sink is active;
// registering again replaces the previous one.
func (e *Engine) RegisterTradeSink(sink TradeSink) {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	e.sink = sink
}

func (e *Engine) tradeSink() TradeSink {
	e.sinkMu.RLock()
	defer e.sinkMu.RUnlock()
	return e.sink
}

// nextTradeID allocates from a venue-wide counter, so trade ids stay unique
// across symbols. Within one book they are strictly increasing because
// allocation happens under the book mutex.
func (e *Engine) nextTradeID() uint64 {
	return e.tradeIDs.Add(1)
}

// TradeCount reports how many fills the venue has produced.
func (e *Engine) TradeCount() uint64 {
	return e.tradeIDs.Load()
}

func (e *Engine) GetOrCreateOrderBook(symbol string) *OrderBook {
	e.mu.RLock()
	if ob, exists := e.books[symbol]; exists {
		e.mu.RUnlock()
		return ob
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// edge case: double-check after acquiring write lock
	if ob, exists := e.books[symbol]; exists {
		return ob
	}

	ob := NewOrderBook(symbol, e)
	e.books[symbol] = ob
	return ob
}

// GetOrderBook looks a book up without creating it.
func (e *Engine) GetOrderBook(symbol string) (*OrderBook, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ob, exists := e.books[symbol]
	return ob, exists
}

func (e *Engine) GetOrderBooksSnapshot() map[string]*OrderBook {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snapshot := make(map[string]*OrderBook, len(e.books))
	for k, v := range e.books {
		snapshot[k] = v
	}
	return snapshot
}

type MatchResult struct {
	Status            OrderStatus
	FilledQuantity    int64
	RemainingQuantity int64
	Trades            []Trade
}

// AddOrder routes the order to its symbol's book and matches it there.
func (e *Engine) AddOrder(order *Order) (*MatchResult, error) {
	return e.GetOrCreateOrderBook(order.Symbol).AddOrder(order)
}

// CancelOrder cancels wherever the id is live. Scanning the books keeps the
// call idempotent without a venue-wide order index.
func (e *Engine) CancelOrder(orderID uint64) bool {
	for _, ob := range e.GetOrderBooksSnapshot() {
		if ob.CancelOrder(orderID) {
			return true
		}
	}
	return false
}

// GetOrder finds a live order in any book and returns a value copy.
func (e *Engine) GetOrder(orderID uint64) (Order, bool) {
	for _, ob := range e.GetOrderBooksSnapshot() {
		if order, ok := ob.GetOrder(orderID); ok {
			return order, true
		}
	}
	return Order{}, false
}

type DuplicateOrderError struct {
	OrderID uint64
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("order id %d is already live in the book", e.OrderID)
}
