package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amank-23/go-trading-engine/src/logger"
)

// InboundOrder is one order message on the market-data feed. It is the same
// JSON shape the control API accepts; prices are in cents.
type InboundOrder struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// Client consumes an upstream order stream over websocket. Messages are
// delivered on a channel that closes when the upstream disconnects, so the
// consumer drains and exits cleanly.
type Client struct {
	conn     *websocket.Conn
	messages chan InboundOrder
	done     chan struct{}
	once     sync.Once
	log      zerolog.Logger
}

// Dial connects to the feed and starts the read loop.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:     conn,
		messages: make(chan InboundOrder, 256),
		done:     make(chan struct{}),
		log:      logger.Component("feed"),
	}
	go c.readLoop()

	c.log.Info().Str("url", url).Msg("Connected to market data feed")
	return c, nil
}

// Messages is the inbound stream. It is closed after the upstream
// disconnects or Close is called.
func (c *Client) Messages() <-chan InboundOrder {
	return c.messages
}

func (c *Client) readLoop() {
	defer close(c.messages)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info().Msg("Feed closed by upstream")
			} else {
				c.log.Warn().Err(err).Msg("Feed read failed, upstream disconnected")
			}
			return
		}

		// edge case: a single malformed message is dropped, not fatal; only
		// transport failures end the stream
		var msg InboundOrder
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.Warn().Err(err).Str("payload", string(payload)).Msg("Dropping undecodable feed message")
			continue
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// Close sends a close frame and tears the connection down. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}
