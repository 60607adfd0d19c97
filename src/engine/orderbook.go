package engine

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog/log"
)

type PriceLevel struct {
	Price  int64
	Orders []*Order // fifo ordering for time priority
}

type PriceLevelItem struct {
	PriceLevel *PriceLevel
}

func (p *PriceLevelItem) Less(than btree.Item) bool {
	other := than.(*PriceLevelItem)
	return p.PriceLevel.Price > other.PriceLevel.Price
}

type PriceLevelItemAscending struct {
	PriceLevel *PriceLevel
}

func (p *PriceLevelItemAscending) Less(than btree.Item) bool {
	other := than.(*PriceLevelItemAscending)
	return p.PriceLevel.Price < other.PriceLevel.Price
}

// OrderBook holds one symbol's resting orders. A single mutex serializes
// admission, matching, cancellation and reads, so every trade and every
// snapshot observes a book that is internally consistent.
type OrderBook struct {
	Symbol string

	mu     sync.Mutex
	bids   *btree.BTree // sorted descending (highest first)
	asks   *btree.BTree // sorted ascending (lowest first)
	orders map[uint64]*Order
	seq    uint64
	eng    *Engine
}

func NewOrderBook(symbol string, eng *Engine) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   btree.New(32),
		asks:   btree.New(32),
		orders: make(map[uint64]*Order),
		eng:    eng,
	}
}

// AddOrder admits an order and immediately matches it as far as the opposite
// side allows. Limit residuals rest in the book; market residuals are
// discarded. The returned result reflects the order's state at the moment
// the book lock was released.
func (ob *OrderBook) AddOrder(order *Order) (*MatchResult, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	// edge case: an id may be reused only after the previous holder left the
	// book; a live id is rejected outright
	if _, exists := ob.orders[order.ID]; exists {
		return nil, &DuplicateOrderError{OrderID: order.ID}
	}

	ob.seq++
	order.seq = ob.seq

	var trades []Trade
	if order.Type == TypeMarket {
		trades = ob.matchMarket(order)
	} else {
		ob.orders[order.ID] = order
		ob.enqueue(order)
		trades = ob.matchLoop()
	}

	return &MatchResult{
		Status:            order.Status,
		FilledQuantity:    order.Quantity - order.Remaining,
		RemainingQuantity: order.Remaining,
		Trades:            trades,
	}, nil
}

// enqueue appends the order to its price level, creating the level when the
// price is new. Caller must hold mu.
func (ob *OrderBook) enqueue(order *Order) {
	var tree *btree.BTree
	var item btree.Item

	if order.Side == SideBuy {
		tree = ob.bids
		item = &PriceLevelItem{PriceLevel: &PriceLevel{Price: order.Price}}
	} else {
		tree = ob.asks
		item = &PriceLevelItemAscending{PriceLevel: &PriceLevel{Price: order.Price}}
	}

	var priceLevel *PriceLevel
	existing := tree.Get(item)
	if existing != nil {
		if order.Side == SideBuy {
			priceLevel = existing.(*PriceLevelItem).PriceLevel
		} else {
			priceLevel = existing.(*PriceLevelItemAscending).PriceLevel
		}
	} else {
		priceLevel = &PriceLevel{
			Price:  order.Price,
			Orders: make([]*Order, 0, 4),
		}
		if order.Side == SideBuy {
			tree.ReplaceOrInsert(&PriceLevelItem{PriceLevel: priceLevel})
		} else {
			tree.ReplaceOrInsert(&PriceLevelItemAscending{PriceLevel: priceLevel})
		}
	}

	priceLevel.Orders = append(priceLevel.Orders, order)
}

// matchLoop crosses the book until the spread opens or a side empties.
// Caller must hold mu.
func (ob *OrderBook) matchLoop() []Trade {
	var trades []Trade

	for ob.bids.Len() > 0 && ob.asks.Len() > 0 {
		bidLevel := ob.bids.Min().(*PriceLevelItem).PriceLevel
		askLevel := ob.asks.Min().(*PriceLevelItemAscending).PriceLevel

		// edge case: cancelled orders are swept lazily, only when their
		// level reaches the top; an emptied level is pruned and the loop
		// restarted so the crossing check sees the next live level
		if ob.sweepLevel(bidLevel) {
			ob.bids.Delete(&PriceLevelItem{PriceLevel: bidLevel})
			continue
		}
		if ob.sweepLevel(askLevel) {
			ob.asks.Delete(&PriceLevelItemAscending{PriceLevel: askLevel})
			continue
		}

		if bidLevel.Price < askLevel.Price {
			break
		}

		bid := bidLevel.Orders[0]
		ask := askLevel.Orders[0]

		executionQty := bid.Remaining
		if ask.Remaining < executionQty {
			executionQty = ask.Remaining
		}

		// the order that reached the book first is the resting party and
		// sets the fill price
		resting, aggressive := bid, ask
		if ask.seq < bid.seq {
			resting, aggressive = ask, bid
		}

		trades = append(trades, ob.execute(resting, aggressive, executionQty))

		if bid.Remaining == 0 {
			bidLevel.Orders = bidLevel.Orders[1:]
			delete(ob.orders, bid.ID)
			if len(bidLevel.Orders) == 0 {
				ob.bids.Delete(&PriceLevelItem{PriceLevel: bidLevel})
			}
		}
		if ask.Remaining == 0 {
			askLevel.Orders = askLevel.Orders[1:]
			delete(ob.orders, ask.ID)
			if len(askLevel.Orders) == 0 {
				ob.asks.Delete(&PriceLevelItemAscending{PriceLevel: askLevel})
			}
		}
	}

	return trades
}

// edge case: market orders never rest; whatever the opposite side cannot
// fill is discarded rather than queued or rejected
func (ob *OrderBook) matchMarket(order *Order) []Trade {
	var trades []Trade

	for order.Remaining > 0 {
		var priceLevel *PriceLevel

		if order.Side == SideBuy {
			if ob.asks.Len() == 0 {
				break
			}
			priceLevel = ob.asks.Min().(*PriceLevelItemAscending).PriceLevel
			if ob.sweepLevel(priceLevel) {
				ob.asks.Delete(&PriceLevelItemAscending{PriceLevel: priceLevel})
				continue
			}
		} else {
			if ob.bids.Len() == 0 {
				break
			}
			priceLevel = ob.bids.Min().(*PriceLevelItem).PriceLevel
			if ob.sweepLevel(priceLevel) {
				ob.bids.Delete(&PriceLevelItem{PriceLevel: priceLevel})
				continue
			}
		}

		restingOrder := priceLevel.Orders[0]

		executionQty := order.Remaining
		if restingOrder.Remaining < executionQty {
			executionQty = restingOrder.Remaining
		}

		trades = append(trades, ob.execute(restingOrder, order, executionQty))

		if restingOrder.Remaining == 0 {
			priceLevel.Orders = priceLevel.Orders[1:]
			delete(ob.orders, restingOrder.ID)
			if len(priceLevel.Orders) == 0 {
				if order.Side == SideBuy {
					ob.asks.Delete(&PriceLevelItemAscending{PriceLevel: priceLevel})
				} else {
					ob.bids.Delete(&PriceLevelItem{PriceLevel: priceLevel})
				}
			}
		}
	}

	if order.Remaining > 0 {
		order.Status = StatusDiscarded
		log.Debug().
			Str("symbol", ob.Symbol).
			Uint64("order_id", order.ID).
			Int64("residual", order.Remaining).
			Msg("Market order residual discarded")
	}

	return trades
}

// sweepLevel drops fully-executed and cancelled orders from the head of the
// queue. Reports true when the level emptied out. Caller must hold mu.
func (ob *OrderBook) sweepLevel(priceLevel *PriceLevel) bool {
	for len(priceLevel.Orders) > 0 && priceLevel.Orders[0].Remaining == 0 {
		priceLevel.Orders = priceLevel.Orders[1:]
	}
	return len(priceLevel.Orders) == 0
}

// execute records one fill at the resting order's price. The trade is handed
// to the sink before quantities are decremented, so consumers always see it
// against the pre-fill book. Caller must hold mu.
func (ob *OrderBook) execute(resting, aggressive *Order, quantity int64) Trade {
	trade := Trade{
		TradeID:           ob.eng.nextTradeID(),
		Symbol:            ob.Symbol,
		RestingOrderID:    resting.ID,
		AggressiveOrderID: aggressive.ID,
		Price:             resting.Price,
		Quantity:          quantity,
		TakerSide:         aggressive.Side,
		Timestamp:         time.Now().UnixMilli(),
	}

	ob.emit(trade)

	resting.Remaining -= quantity
	aggressive.Remaining -= quantity

	if resting.Remaining == 0 {
		resting.Status = StatusFilled
	} else {
		resting.Status = StatusPartialFill
	}
	if aggressive.Remaining == 0 {
		aggressive.Status = StatusFilled
	} else {
		aggressive.Status = StatusPartialFill
	}

	return trade
}

// emit delivers the trade to the registered sink. A panicking sink loses
// this one delivery; the fill itself stands and matching continues.
func (ob *OrderBook) emit(trade Trade) {
	sink := ob.eng.tradeSink()
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Uint64("trade_id", trade.TradeID).
				Str("symbol", ob.Symbol).
				Msg("Trade sink panicked, downstream consumers missed this fill")
		}
	}()
	sink(trade)
}

// CancelOrder is idempotent: an unknown or already-terminal id reports false
// and changes nothing.
func (ob *OrderBook) CancelOrder(orderID uint64) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	order, exists := ob.orders[orderID]
	if !exists {
		return false
	}

	// edge case: the queue entry stays behind with zero remaining and is
	// swept by the match loop; only the index entry goes now
	order.Remaining = 0
	order.Status = StatusCancelled
	delete(ob.orders, orderID)
	return true
}

// GetOrder returns a value copy of a live order. Orders leave the index the
// moment they fill or cancel, so terminal orders are not found here.
func (ob *OrderBook) GetOrder(orderID uint64) (Order, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	order, exists := ob.orders[orderID]
	if !exists {
		return Order{}, false
	}
	return *order, true
}

// LiveOrders reports how many orders are currently indexed.
func (ob *OrderBook) LiveOrders() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.orders)
}

func (ob *OrderBook) GetBestBid() (price int64, quantity int64, ok bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.bids.Ascend(func(item btree.Item) bool {
		priceLevel := item.(*PriceLevelItem).PriceLevel
		var totalQuantity int64
		for _, order := range priceLevel.Orders {
			totalQuantity += order.Remaining
		}
		if totalQuantity == 0 {
			return true // walk past levels emptied by lazy cancellation
		}
		price, quantity, ok = priceLevel.Price, totalQuantity, true
		return false
	})

	return price, quantity, ok
}

func (ob *OrderBook) GetBestAsk() (price int64, quantity int64, ok bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.asks.Ascend(func(item btree.Item) bool {
		priceLevel := item.(*PriceLevelItemAscending).PriceLevel
		var totalQuantity int64
		for _, order := range priceLevel.Orders {
			totalQuantity += order.Remaining
		}
		if totalQuantity == 0 {
			return true
		}
		price, quantity, ok = priceLevel.Price, totalQuantity, true
		return false
	})

	return price, quantity, ok
}

type DepthLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// GetDepthSnapshot aggregates remaining quantity per price level, best
// prices first. A depth of zero or less reports every level.
func (ob *OrderBook) GetDepthSnapshot(depth int) (bids []DepthLevel, asks []DepthLevel) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	bids = []DepthLevel{}
	asks = []DepthLevel{}

	ob.bids.Ascend(func(item btree.Item) bool {
		if depth > 0 && len(bids) >= depth {
			return false
		}
		priceLevel := item.(*PriceLevelItem).PriceLevel
		var totalQuantity int64
		for _, order := range priceLevel.Orders {
			totalQuantity += order.Remaining
		}
		// edge case: levels holding only lazily-cancelled orders are
		// invisible to depth consumers
		if totalQuantity == 0 {
			return true
		}
		bids = append(bids, DepthLevel{Price: priceLevel.Price, Quantity: totalQuantity})
		return true
	})

	ob.asks.Ascend(func(item btree.Item) bool {
		if depth > 0 && len(asks) >= depth {
			return false
		}
		priceLevel := item.(*PriceLevelItemAscending).PriceLevel
		var totalQuantity int64
		for _, order := range priceLevel.Orders {
			totalQuantity += order.Remaining
		}
		if totalQuantity == 0 {
			return true
		}
		asks = append(asks, DepthLevel{Price: priceLevel.Price, Quantity: totalQuantity})
		return true
	})

	return bids, asks
}
