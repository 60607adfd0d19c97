package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amank-23/go-trading-engine/src/engine"
	"github.com/amank-23/go-trading-engine/src/history"
	"github.com/amank-23/go-trading-engine/src/logger"
	"github.com/amank-23/go-trading-engine/src/risk"
)

const subscriberBuffer = 32

// BookPanel is one symbol's aggregated depth, top levels only.
type BookPanel struct {
	Bids []engine.DepthLevel `json:"bids"`
	Asks []engine.DepthLevel `json:"asks"`
}

// Frame is one dashboard refresh: every book's depth, the house positions
// and the newest-first trade tail, captured at the same instant.
type Frame struct {
	Timestamp int64                    `json:"timestamp"`
	Books     map[string]BookPanel     `json:"books"`
	Positions map[string]risk.Position `json:"positions"`
	Trades    []engine.Trade           `json:"trades"`
}

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Server is the visualization plane: a websocket listener that pushes every
// executed trade on /ws/trades and periodic snapshot frames on /ws/book.
// It only ever reads engine state, so it can never corrupt a book.
type Server struct {
	addr     string
	interval time.Duration
	depth    int

	matching *engine.Engine
	risk     *risk.Engine
	tail     *history.Tail

	trades *Hub[engine.Trade]
	frames *Hub[Frame]

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(addr string, interval time.Duration, depth int, matching *engine.Engine, riskEngine *risk.Engine, tail *history.Tail) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	if depth <= 0 {
		depth = 10
	}
	return &Server{
		addr:     addr,
		interval: interval,
		depth:    depth,
		matching: matching,
		risk:     riskEngine,
		tail:     tail,
		trades:   NewHub[engine.Trade](),
		frames:   NewHub[Frame](),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.Component("stream_server"),
	}
}

// PublishTrade pushes one fill to every /ws/trades subscriber. Wired into the
// admission pipeline as an extra trade sink, so it must never block.
func (s *Server) PublishTrade(trade engine.Trade) {
	s.trades.Broadcast(trade)
}

// Handler exposes the websocket endpoints, split out so tests can mount them
// on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/trades", s.handleTrades)
	mux.HandleFunc("/ws/book", s.handleBook)
	return mux
}

// Run serves the websocket endpoints and drives the snapshot pump until ctx
// is cancelled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	go s.pump(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("stream server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.log.Info().Msg("stream server shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// pump broadcasts a fresh snapshot frame on every tick while anyone is
// watching /ws/book.
func (s *Server) pump(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.frames.Subscribers() == 0 {
				continue
			}
			s.frames.Broadcast(s.snapshotFrame())
		}
	}
}

func (s *Server) snapshotFrame() Frame {
	books := make(map[string]BookPanel)
	for symbol, book := range s.matching.GetOrderBooksSnapshot() {
		bids, asks := book.GetDepthSnapshot(s.depth)
		books[symbol] = BookPanel{Bids: bids, Asks: asks}
	}

	return Frame{
		Timestamp: time.Now().UnixMilli(),
		Books:     books,
		Positions: s.risk.GetPositionsSnapshot(),
		Trades:    s.tail.Recent(0),
	}
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("trade stream upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.trades.Subscribe(subscriberBuffer)
	defer s.trades.Unsubscribe(sub)
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("trade stream subscriber connected")

	for trade := range sub.C {
		if err := conn.WriteJSON(outboundMessage{Type: "trade", Data: trade}); err != nil {
			s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("trade stream subscriber went away")
			return
		}
	}
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("book stream upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.frames.Subscribe(subscriberBuffer)
	defer s.frames.Unsubscribe(sub)
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("book stream subscriber connected")

	// first frame immediately so a fresh dashboard is not blank for a tick
	if err := conn.WriteJSON(outboundMessage{Type: "book", Data: s.snapshotFrame()}); err != nil {
		return
	}

	for frame := range sub.C {
		if err := conn.WriteJSON(outboundMessage{Type: "book", Data: frame}); err != nil {
			s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("book stream subscriber went away")
			return
		}
	}
}
