package engine

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// Property: an incoming limit order matches a resting one exactly when the
// bid price is at or above the ask price, and the fill prints at the resting
// order's price.
func TestProperty_PriceCompatibilityDeterminesMatching(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		restingPrice := rapid.Int64Range(100, 5000).Draw(t, "restingPrice")
		incomingPrice := rapid.Int64Range(100, 5000).Draw(t, "incomingPrice")
		qty := rapid.Int64Range(1, 100).Draw(t, "qty")
		restingIsAsk := rapid.Bool().Draw(t, "restingIsAsk")

		_, ob := newTestBook("TEST")

		restingSide, incomingSide := SideSell, SideBuy
		if !restingIsAsk {
			restingSide, incomingSide = SideBuy, SideSell
		}

		if _, err := ob.AddOrder(NewOrder(1, "TEST", restingSide, TypeLimit, restingPrice, qty)); err != nil {
			t.Fatalf("failed to place resting order: %v", err)
		}

		result, err := ob.AddOrder(NewOrder(2, "TEST", incomingSide, TypeLimit, incomingPrice, qty))
		if err != nil {
			t.Fatalf("failed to place incoming order: %v", err)
		}

		var shouldMatch bool
		if restingIsAsk {
			shouldMatch = incomingPrice >= restingPrice
		} else {
			shouldMatch = restingPrice >= incomingPrice
		}

		if shouldMatch && len(result.Trades) == 0 {
			t.Fatalf("expected a trade for resting=%d incoming=%d, got none", restingPrice, incomingPrice)
		}
		if !shouldMatch && len(result.Trades) != 0 {
			t.Fatalf("expected no trade for resting=%d incoming=%d, got %d", restingPrice, incomingPrice, len(result.Trades))
		}

		for i, trade := range result.Trades {
			if trade.Price != restingPrice {
				t.Fatalf("trade[%d]: execution price %d != resting price %d", i, trade.Price, restingPrice)
			}
			if trade.RestingOrderID != 1 || trade.AggressiveOrderID != 2 {
				t.Fatalf("trade[%d]: attribution resting=%d aggressive=%d, want 1 and 2",
					i, trade.RestingOrderID, trade.AggressiveOrderID)
			}
		}

		bid, _, hasBid := ob.GetBestBid()
		ask, _, hasAsk := ob.GetBestAsk()
		if hasBid && hasAsk && bid >= ask {
			t.Fatalf("book is crossed: best bid %d >= best ask %d", bid, ask)
		}
	})
}

// Property: across any sequence of submissions and cancellations, no order
// trades more than its original quantity, live orders account for the exact
// difference, and departed uncancelled limit orders are fully filled.
func TestProperty_QuantityConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		eng, ob := newTestBook("TEST")

		fills := make(map[uint64]int64)
		eng.RegisterTradeSink(func(trade Trade) {
			fills[trade.RestingOrderID] += trade.Quantity
			fills[trade.AggressiveOrderID] += trade.Quantity
		})

		quantities := make(map[uint64]int64)
		kinds := make(map[uint64]OrderType)
		cancelled := make(map[uint64]bool)

		numOps := rapid.IntRange(1, 60).Draw(t, "numOps")
		nextID := uint64(0)
		for i := 0; i < numOps; i++ {
			op := rapid.IntRange(0, 9).Draw(t, fmt.Sprintf("op-%d", i))
			switch {
			case op < 7: // limit order
				nextID++
				side := SideSell
				if rapid.Bool().Draw(t, fmt.Sprintf("isBid-%d", i)) {
					side = SideBuy
				}
				price := rapid.Int64Range(100, 120).Draw(t, fmt.Sprintf("price-%d", i))
				qty := rapid.Int64Range(1, 50).Draw(t, fmt.Sprintf("qty-%d", i))
				quantities[nextID] = qty
				kinds[nextID] = TypeLimit
				if _, err := ob.AddOrder(NewOrder(nextID, "TEST", side, TypeLimit, price, qty)); err != nil {
					t.Fatalf("limit submission failed: %v", err)
				}
			case op < 9: // market order
				nextID++
				side := SideSell
				if rapid.Bool().Draw(t, fmt.Sprintf("isBid-%d", i)) {
					side = SideBuy
				}
				qty := rapid.Int64Range(1, 50).Draw(t, fmt.Sprintf("qty-%d", i))
				quantities[nextID] = qty
				kinds[nextID] = TypeMarket
				if _, err := ob.AddOrder(NewOrder(nextID, "TEST", side, TypeMarket, 0, qty)); err != nil {
					t.Fatalf("market submission failed: %v", err)
				}
			default: // cancel a random earlier id
				if nextID == 0 {
					continue
				}
				target := uint64(rapid.IntRange(1, int(nextID)).Draw(t, fmt.Sprintf("cancel-%d", i)))
				if ob.CancelOrder(target) {
					cancelled[target] = true
				}
			}
		}

		for id, qty := range quantities {
			filled := fills[id]
			if filled > qty {
				t.Fatalf("order %d traded %d, more than its quantity %d", id, filled, qty)
			}
			if live, ok := ob.GetOrder(id); ok {
				if filled+live.Remaining != qty {
					t.Fatalf("order %d: filled %d + remaining %d != quantity %d", id, filled, live.Remaining, qty)
				}
			} else if kinds[id] == TypeLimit && !cancelled[id] && filled != qty {
				t.Fatalf("departed limit order %d filled %d of %d without being cancelled", id, filled, qty)
			}
		}
	})
}

// Property: the book is uncrossed after every operation, and depth snapshots
// are sorted, positive, and free of swept-out levels.
func TestProperty_BookNeverCrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		_, ob := newTestBook("TEST")

		numOps := rapid.IntRange(1, 50).Draw(t, "numOps")
		nextID := uint64(0)
		for i := 0; i < numOps; i++ {
			op := rapid.IntRange(0, 9).Draw(t, fmt.Sprintf("op-%d", i))
			if op < 8 {
				nextID++
				side := SideSell
				if rapid.Bool().Draw(t, fmt.Sprintf("isBid-%d", i)) {
					side = SideBuy
				}
				price := rapid.Int64Range(100, 115).Draw(t, fmt.Sprintf("price-%d", i))
				qty := rapid.Int64Range(1, 30).Draw(t, fmt.Sprintf("qty-%d", i))
				ob.AddOrder(NewOrder(nextID, "TEST", side, TypeLimit, price, qty))
			} else if nextID > 0 {
				target := uint64(rapid.IntRange(1, int(nextID)).Draw(t, fmt.Sprintf("cancel-%d", i)))
				ob.CancelOrder(target)
			}

			bid, _, hasBid := ob.GetBestBid()
			ask, _, hasAsk := ob.GetBestAsk()
			if hasBid && hasAsk && bid >= ask {
				t.Fatalf("after op %d the book is crossed: bid %d >= ask %d", i, bid, ask)
			}

			bids, asks := ob.GetDepthSnapshot(0)
			for j, level := range bids {
				if level.Quantity <= 0 {
					t.Fatalf("bid level %d has non-positive quantity %d", j, level.Quantity)
				}
				if j > 0 && bids[j-1].Price <= level.Price {
					t.Fatalf("bid levels not strictly descending: %d then %d", bids[j-1].Price, level.Price)
				}
			}
			for j, level := range asks {
				if level.Quantity <= 0 {
					t.Fatalf("ask level %d has non-positive quantity %d", j, level.Quantity)
				}
				if j > 0 && asks[j-1].Price >= level.Price {
					t.Fatalf("ask levels not strictly ascending: %d then %d", asks[j-1].Price, level.Price)
				}
			}
		}
	})
}

// Property: one aggressive order walking the book gets prices no worse than
// the previous fill, and trade ids strictly increase.
func TestProperty_SweepPricesMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		incomingIsBid := rapid.Bool().Draw(t, "incomingIsBid")
		numResting := rapid.IntRange(1, 10).Draw(t, "numResting")

		_, ob := newTestBook("TEST")

		restingSide := SideBuy
		if incomingIsBid {
			restingSide = SideSell
		}

		var totalLiquidity int64
		for i := 0; i < numResting; i++ {
			price := rapid.Int64Range(100, 200).Draw(t, fmt.Sprintf("restingPrice-%d", i))
			qty := rapid.Int64Range(1, 50).Draw(t, fmt.Sprintf("restingQty-%d", i))
			totalLiquidity += qty
			ob.AddOrder(NewOrder(uint64(i+1), "TEST", restingSide, TypeLimit, price, qty))
		}

		incomingQty := rapid.Int64Range(1, totalLiquidity*2).Draw(t, "incomingQty")
		incomingSide := SideSell
		if incomingIsBid {
			incomingSide = SideBuy
		}
		result, err := ob.AddOrder(NewOrder(uint64(numResting+1), "TEST", incomingSide, TypeMarket, 0, incomingQty))
		if err != nil {
			t.Fatalf("market submission failed: %v", err)
		}

		expectedFill := incomingQty
		if totalLiquidity < expectedFill {
			expectedFill = totalLiquidity
		}
		if result.FilledQuantity != expectedFill {
			t.Fatalf("market order filled %d, want min(qty=%d, liquidity=%d)=%d",
				result.FilledQuantity, incomingQty, totalLiquidity, expectedFill)
		}

		for i := 1; i < len(result.Trades); i++ {
			prev, cur := result.Trades[i-1], result.Trades[i]
			if cur.TradeID <= prev.TradeID {
				t.Fatalf("trade ids not increasing: %d then %d", prev.TradeID, cur.TradeID)
			}
			if incomingIsBid && cur.Price < prev.Price {
				t.Fatalf("buy sweep got better price later: %d then %d", prev.Price, cur.Price)
			}
			if !incomingIsBid && cur.Price > prev.Price {
				t.Fatalf("sell sweep got better price later: %d then %d", prev.Price, cur.Price)
			}
		}

		// A market order leaves no trace of itself on the book
		if _, ok := ob.GetOrder(uint64(numResting + 1)); ok {
			t.Fatal("market order must not be live after matching")
		}
	})
}
