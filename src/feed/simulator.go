package feed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amank-23/go-trading-engine/src/logger"
)

type simSymbol struct {
	symbol    string
	basePrice int64 // cents
}

// Simulator is a stand-in upstream exchange: a websocket server that streams
// a rotating demo order flow across a small symbol universe. Prices drift in
// a repeating pattern around each base price with a 0.1% spread, and every
// fifth cycle an oversized order goes out so the position limit actually
// trips during a demo run.
type Simulator struct {
	universe []simSymbol
	interval time.Duration
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewSimulator builds the demo flow. The symbol universe defaults to
// BTC-USD, ETH-USD and SOL-USD and can be overridden with SIM_SYMBOLS as
// comma-separated symbol:base_price_cents pairs.
func NewSimulator(interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}

	universe := []simSymbol{
		{symbol: "BTC-USD", basePrice: 5000000},
		{symbol: "ETH-USD", basePrice: 300000},
		{symbol: "SOL-USD", basePrice: 15000},
	}
	if envSymbols := os.Getenv("SIM_SYMBOLS"); envSymbols != "" {
		if parsed := parseUniverse(envSymbols); len(parsed) > 0 {
			universe = parsed
		}
	}

	return &Simulator{
		universe: universe,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.Component("feed_simulator"),
	}
}

// parseUniverse reads "BTC-USD:5000000,ETH-USD:300000" style overrides.
// Malformed entries are skipped rather than failing the whole override.
func parseUniverse(raw string) []simSymbol {
	var universe []simSymbol
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		price, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || price <= 0 {
			continue
		}
		universe = append(universe, simSymbol{symbol: parts[0], basePrice: price})
	}
	return universe
}

// Handler exposes the stream on /ws. Each accepted connection gets its own
// copy of the demo flow from cycle one.
func (s *Simulator) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug().Err(err).Msg("feed upgrade failed")
			return
		}
		s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("feed consumer connected")
		s.stream(ctx, conn)
	})
	return mux
}

// Serve starts the simulator on a loopback listener and reports the
// websocket URL to dial. The listener closes when ctx is cancelled; open
// streams close themselves through the same ctx.
func (s *Simulator) Serve(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	srv := &http.Server{Handler: s.Handler(ctx)}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("feed simulator server stopped")
		}
	}()

	url := "ws://" + ln.Addr().String() + "/ws"
	s.log.Info().Str("url", url).Dur("interval", s.interval).Msg("feed simulator listening")
	return url, nil
}

func (s *Simulator) stream(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "simulator stopping"), deadline)
			return
		case <-ticker.C:
		}

		cycle++
		for _, order := range s.cycleOrders(cycle) {
			if err := conn.WriteJSON(order); err != nil {
				s.log.Debug().Err(err).Msg("feed consumer went away")
				return
			}
		}
	}
}

// cycleOrders builds one cycle of the demo flow: a buy and a slightly higher
// sell on the rotating symbol, quantities cycling so the two sides cross
// partially, plus the periodic oversized order aimed at the position limit.
func (s *Simulator) cycleOrders(cycle int) []InboundOrder {
	entry := s.universe[cycle%len(s.universe)]

	// price walks a +-5.00 band in 50 cent steps
	variation := int64(cycle%20)*50 - 500
	buyPrice := entry.basePrice + variation
	sellPrice := buyPrice + entry.basePrice/1000

	orders := []InboundOrder{
		{Symbol: entry.symbol, Side: "buy", Type: "limit", Price: buyPrice, Quantity: int64(10 + cycle%50)},
		{Symbol: entry.symbol, Side: "sell", Type: "limit", Price: sellPrice, Quantity: int64(5 + cycle%25)},
	}

	if cycle%5 == 0 {
		oversized := InboundOrder{Symbol: entry.symbol, Side: "sell", Type: "limit", Price: sellPrice + 100, Quantity: 100}
		if cycle%10 == 0 {
			oversized.Side = "buy"
			oversized.Price = buyPrice - 100
		}
		orders = append(orders, oversized)
	}

	return orders
}
