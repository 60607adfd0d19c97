package journal

import (
	"context"
	"testing"
	"time"

	"github.com/amank-23/go-trading-engine/src/engine"
)

func openTestDB(t *testing.T, name string) *Journal {
	t.Helper()
	db, err := Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to open in-memory blotter: %v", err)
	}
	return New(db, 16)
}

func TestWriterPersistsAndDrainsOnShutdown(t *testing.T) {
	jnl := openTestDB(t, "journal_writer_test")

	ctx, cancel := context.WithCancel(context.Background())
	go jnl.Start(ctx)

	trades := []engine.Trade{
		{TradeID: 1, Symbol: "BTC-USD", RestingOrderID: 10, AggressiveOrderID: 11, Price: 5000000, Quantity: 3, TakerSide: engine.SideSell, Timestamp: 1700000000000},
		{TradeID: 2, Symbol: "BTC-USD", RestingOrderID: 10, AggressiveOrderID: 12, Price: 5000000, Quantity: 2, TakerSide: engine.SideSell, Timestamp: 1700000000001},
	}
	for _, trade := range trades {
		jnl.Record(trade)
	}

	deadline := time.Now().Add(5 * time.Second)
	for jnl.Written() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := jnl.Written(); got != 2 {
		t.Fatalf("expected 2 written trades, got %d", got)
	}

	cancel()
	select {
	case <-jnl.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not drain and stop after cancellation")
	}

	records, err := jnl.Recent(10)
	if err != nil {
		t.Fatalf("failed to query recent trades: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 persisted trades, got %d", len(records))
	}
	// newest first
	if records[0].TradeID != 2 || records[1].TradeID != 1 {
		t.Errorf("expected trades ordered newest first, got %d then %d", records[0].TradeID, records[1].TradeID)
	}
	if records[0].TakerSide != "SELL" {
		t.Errorf("expected taker side SELL, got %s", records[0].TakerSide)
	}
	if records[0].Price != 5000000 {
		t.Errorf("expected price 5000000, got %d", records[0].Price)
	}
}

func TestRecordDropsOnOverflowWithoutBlocking(t *testing.T) {
	db, err := Open("file:journal_overflow_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to open in-memory blotter: %v", err)
	}
	jnl := New(db, 1)

	// no writer running: second and third fills must drop, not block
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 3; i++ {
			jnl.Record(engine.Trade{TradeID: i, Symbol: "ETH-USD", Price: 300000, Quantity: 1})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	if got := jnl.Dropped(); got != 2 {
		t.Errorf("expected 2 dropped trades, got %d", got)
	}
	if got := jnl.Written(); got != 0 {
		t.Errorf("expected 0 written trades before writer start, got %d", got)
	}
}

func TestRecentLimitAndDefault(t *testing.T) {
	jnl := openTestDB(t, "journal_recent_test")

	ctx, cancel := context.WithCancel(context.Background())
	go jnl.Start(ctx)

	for i := uint64(1); i <= 5; i++ {
		jnl.Record(engine.Trade{TradeID: i, Symbol: "SOL-USD", Price: 15000, Quantity: int64(i), TakerSide: engine.SideBuy})
	}
	deadline := time.Now().Add(5 * time.Second)
	for jnl.Written() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-jnl.Done()

	records, err := jnl.Recent(3)
	if err != nil {
		t.Fatalf("failed to query recent trades: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 trades with limit 3, got %d", len(records))
	}
	if records[0].TradeID != 5 {
		t.Errorf("expected newest trade first, got trade_id %d", records[0].TradeID)
	}

	all, err := jnl.Recent(0)
	if err != nil {
		t.Fatalf("failed to query with default limit: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("expected default limit to return all 5 trades, got %d", len(all))
	}
}
