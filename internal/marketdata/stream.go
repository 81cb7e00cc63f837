package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamConfig configures StreamClient behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// PriceUpdate is one streamed price tick.
type PriceUpdate struct {
	Chain       string  `json:"chain"`
	Token       string  `json:"token"`
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"ts"`
}

// StreamClient subscribes to a websocket price stream and writes every
// tick into a PriceCache. Subscriptions survive reconnects.
//
// Protocol: the client sends {"op":"subscribe","chain":"bsc","tokens":[...]};
// the server pushes {"type":"price","chain":..,"token":..,"price":..,"ts":..}.
type StreamClient struct {
	endpoint string
	config   StreamConfig
	cache    *PriceCache
	log      *logrus.Entry

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// subscribed tokens per chain, replayed after reconnect
	subs   map[string]map[string]struct{}
	subsMu sync.RWMutex

	onPrice func(PriceUpdate)
	updates atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

type streamRequest struct {
	Op     string   `json:"op"`
	Chain  string   `json:"chain"`
	Tokens []string `json:"tokens"`
}

type streamMessage struct {
	Type string `json:"type"`
	PriceUpdate
	Error string `json:"error,omitempty"`
}

// NewStreamClient connects to endpoint and starts the read and ping loops.
func NewStreamClient(ctx context.Context, endpoint string, cache *PriceCache, config *StreamConfig) (*StreamClient, error) {
	if cache == nil {
		return nil, fmt.Errorf("stream: price cache is required")
	}
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	c := &StreamClient{
		endpoint: endpoint,
		config:   cfg,
		cache:    cache,
		log:      logrus.WithField("component", "price-stream"),
		subs:     make(map[string]map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// OnPrice registers a callback invoked after each cached update.
// Must be set before Subscribe.
func (c *StreamClient) OnPrice(fn func(PriceUpdate)) {
	c.onPrice = fn
}

// Updates returns the number of price ticks received.
func (c *StreamClient) Updates() uint64 {
	return c.updates.Load()
}

func (c *StreamClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe adds tokens on chain to the stream.
func (c *StreamClient) Subscribe(chain string, tokens ...string) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}
	chain = strings.ToLower(chain)

	c.subsMu.Lock()
	set, ok := c.subs[chain]
	if !ok {
		set = make(map[string]struct{})
		c.subs[chain] = set
	}
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	c.subsMu.Unlock()

	return c.send(streamRequest{Op: "subscribe", Chain: chain, Tokens: tokens})
}

func (c *StreamClient) send(req streamRequest) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", req.Op, err)
	}
	return nil
}

// Close closes the connection and waits for the loops to exit.
func (c *StreamClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *StreamClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.log.WithError(err).WithField("delay", reconnectDelay).Warn("stream disconnected, reconnecting")
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

func (c *StreamClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// retried on the next read error
		return
	}

	c.resubscribeAll()
}

func (c *StreamClient) resubscribeAll() {
	c.subsMu.RLock()
	reqs := make([]streamRequest, 0, len(c.subs))
	for chain, set := range c.subs {
		tokens := make([]string, 0, len(set))
		for t := range set {
			tokens = append(tokens, t)
		}
		sort.Strings(tokens)
		reqs = append(reqs, streamRequest{Op: "subscribe", Chain: chain, Tokens: tokens})
	}
	c.subsMu.RUnlock()

	for _, req := range reqs {
		if err := c.send(req); err != nil {
			c.log.WithError(err).WithField("chain", req.Chain).Warn("resubscribe failed")
		}
	}
}

func (c *StreamClient) handleMessage(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.WithError(err).Debug("ignoring malformed stream message")
		return
	}

	switch msg.Type {
	case "price":
		if msg.Token == "" || msg.Price <= 0 {
			return
		}
		c.cache.Set(msg.Token, msg.Chain, msg.Price)
		c.updates.Add(1)
		if c.onPrice != nil {
			c.onPrice(msg.PriceUpdate)
		}
	case "error":
		c.log.WithField("error", msg.Error).Warn("stream error message")
	}
}

func (c *StreamClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// a dead connection surfaces in readLoop
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}
