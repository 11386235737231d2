package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	readTimeout      = 90 * time.Second
	tradeBufferSize  = 256
)

// TradeEvent is a single last_trade_price event off the CLOB market
// WebSocket channel.
type TradeEvent struct {
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"` // epoch milliseconds, as a string upstream
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
}

// TradeFeed subscribes to the CLOB market channel for a fixed set of token
// ids and streams parsed last_trade_price events. It reconnects with
// exponential backoff and re-subscribes on every reconnect, since
// subscriptions are not preserved server-side across connections.
type TradeFeed struct {
	url          string
	tokenIDs     []string
	pingInterval time.Duration
	logger       *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	events chan TradeEvent
}

// NewTradeFeed creates a trade feed for the given token ids. wsHost should
// be the bare CLOB WebSocket host; "/ws/market" is appended.
func NewTradeFeed(wsHost string, tokenIDs []string, pingInterval time.Duration, logger *slog.Logger) *TradeFeed {
	return &TradeFeed{
		url:          wsHost + "/ws/market",
		tokenIDs:     tokenIDs,
		pingInterval: pingInterval,
		logger:       logger.With("component", "trade_feed"),
		events:       make(chan TradeEvent, tradeBufferSize),
	}
}

// Events returns the channel of parsed last_trade_price events. Closed when
// Run returns.
func (f *TradeFeed) Events() <-chan TradeEvent { return f.events }

// Run connects and maintains the connection with auto-reconnect, blocking
// until ctx is cancelled.
func (f *TradeFeed) Run(ctx context.Context) error {
	defer close(f.events)

	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("trade feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the underlying connection, if any, unblocking a pending read.
func (f *TradeFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *TradeFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("trade feed connected", "tokens", len(f.tokenIDs))

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *TradeFeed) subscribe() error {
	msg := struct {
		AssetIDs []string `json:"assets_ids"`
		Type     string   `json:"type"`
	}{AssetIDs: f.tokenIDs, Type: "market"}
	return f.writeJSON(msg)
}

func (f *TradeFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// dispatch parses one WebSocket frame, which may be a single event object or
// a JSON array of events, emitting only last_trade_price events.
func (f *TradeFeed) dispatch(data []byte) {
	var events []TradeEvent

	var single TradeEvent
	if err := json.Unmarshal(data, &single); err == nil && single.EventType != "" {
		events = []TradeEvent{single}
	} else if err := json.Unmarshal(data, &events); err != nil {
		f.logger.Debug("ignoring unparseable ws frame", "error", err)
		return
	}

	for _, evt := range events {
		if evt.EventType != "last_trade_price" {
			continue
		}
		select {
		case f.events <- evt:
		default:
			f.logger.Warn("trade event channel full, dropping event", "asset_id", evt.AssetID)
		}
	}
}

func (f *TradeFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *TradeFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
