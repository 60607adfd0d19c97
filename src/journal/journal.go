package journal

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amank-23/go-trading-engine/src/engine"
	"github.com/amank-23/go-trading-engine/src/logger"
)

// TradeRecord is the persisted form of one fill. The matcher's in-memory
// records stay authoritative; rows exist as an audit blotter only.
type TradeRecord struct {
	gorm.Model        `json:"-"`
	TradeID           uint64 `gorm:"uniqueIndex" json:"trade_id"`
	Symbol            string `gorm:"index" json:"symbol"`
	RestingOrderID    uint64 `json:"resting_order_id"`
	AggressiveOrderID uint64 `json:"aggressive_order_id"`
	Price             int64  `json:"price"` // price in cents
	Quantity          int64  `json:"quantity"`
	TakerSide         string `json:"taker_side"`
	ExecutedAt        int64  `json:"executed_at"` // unix milliseconds, matcher clock
}

// Open initializes the blotter database and runs migrations.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Journal is a write-behind trade blotter. Record never blocks the caller:
// fills go into a bounded queue and a single writer goroutine drains them
// into sqlite. When the queue is full the fill is dropped and counted, never
// waited on, because Record runs inside the matcher's critical section.
type Journal struct {
	db    *gorm.DB
	queue chan engine.Trade
	done  chan struct{}

	written atomic.Int64
	dropped atomic.Int64
}

func New(db *gorm.DB, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Journal{
		db:    db,
		queue: make(chan engine.Trade, buffer),
		done:  make(chan struct{}),
	}
}

// Record enqueues one fill for persistence. Safe to call from the trade sink.
func (j *Journal) Record(trade engine.Trade) {
	select {
	case j.queue <- trade:
	default:
		j.dropped.Add(1)
	}
}

// Start runs the writer loop until ctx is cancelled, then drains whatever the
// queue still holds and closes Done.
func (j *Journal) Start(ctx context.Context) {
	jlog := logger.Component("trade_journal")
	jlog.Info().Int("buffer", cap(j.queue)).Msg("starting trade journal writer")

	for {
		select {
		case trade := <-j.queue:
			j.insert(jlog, trade)
		case <-ctx.Done():
			for {
				select {
				case trade := <-j.queue:
					j.insert(jlog, trade)
				default:
					jlog.Info().
						Int64("written", j.written.Load()).
						Int64("dropped", j.dropped.Load()).
						Msg("shutting down trade journal writer")
					close(j.done)
					return
				}
			}
		}
	}
}

// Done is closed once Start has drained the queue after cancellation.
func (j *Journal) Done() <-chan struct{} {
	return j.done
}

func (j *Journal) insert(jlog zerolog.Logger, trade engine.Trade) {
	record := TradeRecord{
		TradeID:           trade.TradeID,
		Symbol:            trade.Symbol,
		RestingOrderID:    trade.RestingOrderID,
		AggressiveOrderID: trade.AggressiveOrderID,
		Price:             trade.Price,
		Quantity:          trade.Quantity,
		TakerSide:         string(trade.TakerSide),
		ExecutedAt:        trade.Timestamp,
	}

	if err := j.db.Create(&record).Error; err != nil {
		jlog.Error().
			Err(err).
			Uint64("trade_id", trade.TradeID).
			Str("symbol", trade.Symbol).
			Msg("failed to persist trade")
		return
	}
	j.written.Add(1)
}

// Recent returns the most recently executed persisted trades, newest first.
func (j *Journal) Recent(limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []TradeRecord
	if err := j.db.Order("trade_id desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Written reports how many fills reached the database.
func (j *Journal) Written() int64 {
	return j.written.Load()
}

// Dropped reports how many fills were lost to queue overflow.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}
