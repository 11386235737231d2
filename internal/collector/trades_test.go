package collector

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"polymarket-collector/internal/config"
	"polymarket-collector/internal/upstream"
	"polymarket-collector/pkg/types"
)

func TestParseTradeEventValid(t *testing.T) {
	t.Parallel()
	evt := upstream.TradeEvent{
		EventType: "last_trade_price",
		Timestamp: "1700000000000",
		AssetID:   "tok-a",
		Side:      "BUY",
		Price:     "0.62",
		Size:      "100",
	}
	trade, ok := parseTradeEvent(evt)
	if !ok {
		t.Fatal("expected a parsed trade")
	}
	if trade.TokenID != "tok-a" || trade.Side != types.BUY {
		t.Errorf("parseTradeEvent() = %+v", trade)
	}
	if trade.Price != 0.62 || trade.Size != 100 {
		t.Errorf("parseTradeEvent() price/size = %v/%v", trade.Price, trade.Size)
	}
	wantTs := time.UnixMilli(1700000000000).UTC()
	if !trade.Timestamp.Equal(wantTs) {
		t.Errorf("Timestamp = %v, want %v", trade.Timestamp, wantTs)
	}
}

func TestParseTradeEventWrongEventType(t *testing.T) {
	t.Parallel()
	evt := upstream.TradeEvent{EventType: "book", AssetID: "tok-a"}
	if _, ok := parseTradeEvent(evt); ok {
		t.Error("expected non-trade event types to be rejected")
	}
}

func TestParseTradeEventMalformedNumericFieldsRejected(t *testing.T) {
	t.Parallel()
	base := upstream.TradeEvent{EventType: "last_trade_price", Timestamp: "1700000000000", Price: "0.5", Size: "10"}

	bad := base
	bad.Timestamp = "not-a-number"
	if _, ok := parseTradeEvent(bad); ok {
		t.Error("expected malformed timestamp to be rejected")
	}

	bad = base
	bad.Price = "nope"
	if _, ok := parseTradeEvent(bad); ok {
		t.Error("expected malformed price to be rejected")
	}

	bad = base
	bad.Size = "nope"
	if _, ok := parseTradeEvent(bad); ok {
		t.Error("expected malformed size to be rejected")
	}
}

func newTestListener() *TradeListener {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
	cfg := config.CollectorConfig{TradeBufferSize: 100, TradeBatchDrainTimeoutSec: 1}
	return NewTradeListener(nil, cfg, "wss://example.invalid", logger)
}

func TestEnqueueUpdatesHealthCounters(t *testing.T) {
	t.Parallel()
	l := newTestListener()
	evt := upstream.TradeEvent{
		EventType: "last_trade_price",
		Timestamp: "1700000000000",
		AssetID:   "tok-a",
		Side:      "SELL",
		Price:     "0.33",
		Size:      "12",
	}
	l.enqueue(evt)

	h := l.GetHealth()
	if h.TradesReceived != 1 {
		t.Errorf("TradesReceived = %d, want 1", h.TradesReceived)
	}
	if h.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d, want 1", h.QueueDepth)
	}
	if h.LastTradeTs.IsZero() {
		t.Error("expected LastTradeTs to be set")
	}
}

func TestEnqueueDropsMalformedEventWithoutTouchingHealth(t *testing.T) {
	t.Parallel()
	l := newTestListener()
	l.enqueue(upstream.TradeEvent{EventType: "book"})

	h := l.GetHealth()
	if h.TradesReceived != 0 || h.QueueDepth != 0 {
		t.Errorf("GetHealth() = %+v, want zero counters", h)
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	l := newTestListener()
	l.queue = make(chan types.Trade, 1)

	evt := upstream.TradeEvent{
		EventType: "last_trade_price",
		Timestamp: "1700000000000",
		AssetID:   "tok-a",
		Side:      "BUY",
		Price:     "0.5",
		Size:      "1",
	}
	l.enqueue(evt)
	l.enqueue(evt)

	h := l.GetHealth()
	if h.TradesReceived != 1 {
		t.Errorf("TradesReceived = %d, want 1 (second enqueue should drop)", h.TradesReceived)
	}
	if h.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d, want 1", h.QueueDepth)
	}
}
