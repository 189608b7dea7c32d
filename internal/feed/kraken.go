package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/market"
)

const (
	defaultURL          = "wss://ws.kraken.com/v2"
	defaultReadTimeout  = 30 * time.Second
	defaultRetryBackoff = 2 * time.Second
	maxRetryBackoff     = time.Minute
)

// Handler receives every well-formed observation in arrival order.
type Handler func(market.Observation)

// Config parameterises the Kraken ticker client.
type Config struct {
	URL     string
	Symbols []string
}

// Client maintains a Kraken websocket v2 ticker subscription and converts
// updates into Observations. Malformed messages are dropped here and never
// reach the sample store.
type Client struct {
	cfg     Config
	handler Handler
	logger  zerolog.Logger
	now     func() time.Time
}

// NewClient constructs a feed client.
func NewClient(cfg Config, handler Handler, logger zerolog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("component", "feed").Logger(),
		now:     time.Now,
	}
}

// Run connects and consumes ticker updates until ctx is cancelled,
// reconnecting with backoff on any failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := defaultRetryBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("feed connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (c *Client) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	// unblock ReadMessage on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := c.subscribe(conn); err != nil {
		return err
	}
	c.logger.Info().Strs("symbols", c.cfg.Symbols).Msg("subscribed to ticker stream")

	for {
		_ = conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, obs := range ParseTicker(data, c.now().Unix()) {
			c.handler(obs)
		}
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	req := map[string]any{
		"method": "subscribe",
		"params": map[string]any{
			"channel": "ticker",
			"symbol":  c.cfg.Symbols,
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

type tickerMessage struct {
	Channel string       `json:"channel"`
	Type    string       `json:"type"`
	Data    []tickerData `json:"data"`
}

type tickerData struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Volume float64 `json:"volume"`
	VWAP   float64 `json:"vwap"`
}

// ParseTicker extracts observations from one raw feed message. Non-ticker
// channels (heartbeat, status, subscribe acks) and entries failing basic
// validation yield nothing.
func ParseTicker(data []byte, now int64) []market.Observation {
	var msg tickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	if msg.Channel != "ticker" || len(msg.Data) == 0 {
		return nil
	}

	out := make([]market.Observation, 0, len(msg.Data))
	for _, d := range msg.Data {
		if d.Symbol == "" || d.Last <= 0 || d.Volume < 0 || d.VWAP < 0 {
			continue
		}
		out = append(out, market.Observation{
			Pair:             d.Symbol,
			Timestamp:        now,
			Price:            d.Last,
			Baseline:         d.VWAP,
			CumulativeVolume: d.Volume,
		})
	}
	return out
}
