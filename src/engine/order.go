package engine

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

type OrderStatus string

const (
	StatusAccepted    OrderStatus = "ACCEPTED"
	StatusPartialFill OrderStatus = "PARTIAL_FILL"
	StatusFilled      OrderStatus = "FILLED"
	StatusCancelled   OrderStatus = "CANCELLED"
	// StatusDiscarded marks a market order whose unfilled residual was
	// dropped because the opposite side ran out of liquidity.
	StatusDiscarded OrderStatus = "DISCARDED"
)

// edge case: price stored as int64 in cents to avoid floating-point precision errors
type Order struct {
	ID        uint64
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Price     int64 // price in cents, required for LIMIT, 0 for MARKET
	Quantity  int64 // original quantity, immutable after admission
	Remaining int64 // mutated only under the owning book's mutex
	Status    OrderStatus
	Timestamp int64 // unix milliseconds at admission

	// seq is the book arrival sequence, assigned under the book mutex on
	// entry to AddOrder. The smaller sequence identifies the resting party
	// of a fill, so the fill price is always the earlier order's price.
	seq uint64
}

func NewOrder(id uint64, symbol string, side OrderSide, orderType OrderType, price, quantity int64) *Order {
	return &Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		Status:    StatusAccepted,
		Timestamp: time.Now().UnixMilli(),
	}
}

// FilledQuantity reports how much of the order has executed. Only meaningful
// under the owning book's mutex or on a value copy handed out by the book.
func (o *Order) FilledQuantity() int64 {
	return o.Quantity - o.Remaining
}

// Trade is an immutable fill record. RestingOrderID names the party that was
// on the book first; AggressiveOrderID names the order whose arrival crossed
// the book. TakerSide is the aggressive order's side, so consumers can
// attribute either party without a book lookup.
type Trade struct {
	TradeID           uint64    `json:"trade_id"`
	Symbol            string    `json:"symbol"`
	RestingOrderID    uint64    `json:"resting_order_id"`
	AggressiveOrderID uint64    `json:"aggressive_order_id"`
	Price             int64     `json:"price"`
	Quantity          int64     `json:"quantity"`
	TakerSide         OrderSide `json:"taker_side"`
	Timestamp         int64     `json:"timestamp"`
}

// MakerSide is the side of the resting party.
func (t Trade) MakerSide() OrderSide {
	return t.TakerSide.Opposite()
}

// BuyOrderID returns the id of whichever party bought.
func (t Trade) BuyOrderID() uint64 {
	if t.TakerSide == SideBuy {
		return t.AggressiveOrderID
	}
	return t.RestingOrderID
}

// SellOrderID returns the id of whichever party sold.
func (t Trade) SellOrderID() uint64 {
	if t.TakerSide == SideSell {
		return t.AggressiveOrderID
	}
	return t.RestingOrderID
}
