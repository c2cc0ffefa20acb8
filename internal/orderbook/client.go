// Package orderbook maintains a subscribed WebSocket to the exchange and
// delivers L2 book snapshots and trade ticks to per-coin callbacks,
// auto-reconnecting with exponential backoff and replaying subscriptions,
// following the reconnect-loop idiom used by every exchange client in
// main.go (websocket.DefaultDialer.Dial + retry-on-close).
package orderbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"densityradar/internal/model"
)

// ConnState is the client's connection lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	heartbeatInterval = 30 * time.Second
	maxReconnectTries = 10
	backoffMin        = 5 * time.Second
	backoffMax        = 60 * time.Second
)

// SnapshotCallback is invoked in-order for every snapshot on a subscribed
// coin.
type SnapshotCallback func(model.OrderBookSnapshot)

// TradeCallback is invoked in-order for every trade tick on a subscribed
// coin.
type TradeCallback func(model.Trade)

type subscriptionEntry struct {
	kind string // "l2Book" or "trades"
	coin string
}

// Client is a reconnecting WebSocket order-book/trade stream client.
type Client struct {
	url    string
	logger *log.Logger

	mu          sync.Mutex
	state       ConnState
	conn        *websocket.Conn
	bookCbs     map[string][]SnapshotCallback
	tradeCbs    map[string][]TradeCallback
	allAssetCbs []SnapshotCallback
	subsOrder   []subscriptionEntry
}

// New creates a Client pointed at url (e.g. "wss://.../ws").
func New(url string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		url:      url,
		logger:   logger,
		bookCbs:  make(map[string][]SnapshotCallback),
		tradeCbs: make(map[string][]TradeCallback),
	}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeOrderBook registers cb to receive every L2 snapshot for coin.
func (c *Client) SubscribeOrderBook(coin string, cb SnapshotCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookCbs[coin] = append(c.bookCbs[coin], cb)
	c.subsOrder = append(c.subsOrder, subscriptionEntry{kind: "l2Book", coin: coin})
	if c.state == Connected {
		c.send(newSubscribeMessage("l2Book", coin))
	}
}

// SubscribeTrades registers cb to receive every trade tick for coin.
func (c *Client) SubscribeTrades(coin string, cb TradeCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradeCbs[coin] = append(c.tradeCbs[coin], cb)
	c.subsOrder = append(c.subsOrder, subscriptionEntry{kind: "trades", coin: coin})
	if c.state == Connected {
		c.send(newSubscribeMessage("trades", coin))
	}
}

// SubscribeAllAssets registers cb to receive every l2Book snapshot the
// client dispatches, whatever its coin. It sends no subscription message
// of its own: only coins subscribed through SubscribeOrderBook produce
// snapshots.
func (c *Client) SubscribeAllAssets(cb SnapshotCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allAssetCbs = append(c.allAssetCbs, cb)
}

// Run connects and processes messages until ctx is cancelled, reconnecting
// with exponential backoff (capped, bounded attempts) on every drop.
func (c *Client) Run(ctx context.Context) {
	b := &backoff.Backoff{
		Min:    backoffMin,
		Max:    backoffMax,
		Factor: 2,
		Jitter: false,
	}
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connectAndServe(ctx); err != nil {
			attempt++
			if attempt > maxReconnectTries {
				c.logger.Printf("⚠️ orderbook client: giving up after %d attempts: %v", attempt-1, err)
				return
			}
			delay := b.Duration()
			c.logger.Printf("⚠️ orderbook client: disconnected (%v), reconnecting in %s (attempt %d/%d)", err, delay, attempt, maxReconnectTries)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		// Clean shutdown via ctx cancellation.
		return
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	c.setState(Connecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	subs := append([]subscriptionEntry(nil), c.subsOrder...)
	c.mu.Unlock()

	c.setState(Connected)

	// Replay all subscriptions before delivering further messages.
	for _, s := range subs {
		c.send(newSubscribeMessage(s.kind, s.coin))
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go c.heartbeatLoop(heartbeatCtx, conn)

	defer func() {
		conn.Close()
		c.setState(Disconnected)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(data)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn == conn {
				_ = conn.WriteJSON(map[string]string{"method": "ping"})
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) send(msg subscribeMessage) {
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Printf("⚠️ orderbook client: subscribe send failed: %v", err)
	}
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// handleMessage parses one inbound frame and dispatches it. Parse errors on
// individual messages are logged and discarded; they never close the
// socket.
func (c *Client) handleMessage(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Printf("⚠️ orderbook client: malformed frame: %v", err)
		return
	}

	switch frame.Channel {
	case "l2Book":
		c.handleL2Book(frame.Data)
	case "trades":
		c.handleTrades(frame.Data)
	default:
		// Unrecognized channel (e.g. pong/subscriptionResponse); ignore.
	}
}

func (c *Client) handleL2Book(raw json.RawMessage) {
	var d l2BookData
	if err := json.Unmarshal(raw, &d); err != nil {
		c.logger.Printf("⚠️ orderbook client: bad l2Book payload: %v", err)
		return
	}
	if len(d.Levels) < 2 {
		c.logger.Printf("⚠️ orderbook client: l2Book payload missing both sides for %s", d.Coin)
		return
	}
	snapshot := model.OrderBookSnapshot{
		Coin: d.Coin,
		Time: d.timestamp(),
		Bids: toLevels(d.Levels[0]),
		Asks: toLevels(d.Levels[1]),
	}

	c.mu.Lock()
	cbs := append([]SnapshotCallback(nil), c.bookCbs[d.Coin]...)
	allCbs := append([]SnapshotCallback(nil), c.allAssetCbs...)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(snapshot)
	}
	for _, cb := range allCbs {
		cb(snapshot)
	}
}

func (c *Client) handleTrades(raw json.RawMessage) {
	var ticks tradeData
	if err := json.Unmarshal(raw, &ticks); err != nil {
		c.logger.Printf("⚠️ orderbook client: bad trades payload: %v", err)
		return
	}
	for _, t := range ticks {
		price, err1 := t.Px.Float64()
		size, err2 := t.Sz.Float64()
		if err1 != nil || err2 != nil {
			c.logger.Printf("⚠️ orderbook client: bad trade tick for %s", t.Coin)
			continue
		}
		trade := model.Trade{
			Coin:      t.Coin,
			Price:     price,
			Size:      size,
			Side:      model.Side(t.Side),
			Timestamp: time.UnixMilli(t.Time),
		}

		c.mu.Lock()
		cbs := append([]TradeCallback(nil), c.tradeCbs[t.Coin]...)
		c.mu.Unlock()

		for _, cb := range cbs {
			cb(trade)
		}
	}
}

func toLevels(levels []rawLevel) []model.Level {
	out := make([]model.Level, len(levels))
	for i, l := range levels {
		out[i] = model.Level{Price: l.Price, Size: l.Size}
	}
	return out
}
