package store

import (
	"context"
	"testing"
	"time"

	"polymarket-collector/pkg/types"
)

func TestInsertTradesAndGetRecent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	trades := []types.Trade{
		{Timestamp: now.Add(-time.Minute), TokenID: "tok-trade", Side: types.BUY, Price: 0.5, Size: 10, TradeID: "trade-1"},
		{Timestamp: now, TokenID: "tok-trade", Side: types.SELL, Price: 0.51, Size: 5, TradeID: "trade-2"},
	}

	n, err := st.InsertTrades(ctx, trades)
	if err != nil {
		t.Fatalf("InsertTrades() = %v", err)
	}
	if n != len(trades) {
		t.Errorf("InsertTrades() = %d, want %d", n, len(trades))
	}

	recent, err := st.GetRecentTrades(ctx, "tok-trade", 10)
	if err != nil {
		t.Fatalf("GetRecentTrades() = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("GetRecentTrades() returned %d, want 2", len(recent))
	}
	if recent[0].TradeID != "trade-2" {
		t.Errorf("GetRecentTrades()[0].TradeID = %q, want trade-2 (newest first)", recent[0].TradeID)
	}
}

func TestInsertTradesFallsBackOnDuplicateTradeID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	first := []types.Trade{
		{Timestamp: now, TokenID: "tok-dup", Side: types.BUY, Price: 0.5, Size: 1, TradeID: "dup-1"},
	}
	if _, err := st.InsertTrades(ctx, first); err != nil {
		t.Fatalf("InsertTrades() first = %v", err)
	}

	batchWithDup := []types.Trade{
		{Timestamp: now.Add(time.Second), TokenID: "tok-dup", Side: types.BUY, Price: 0.5, Size: 1, TradeID: "dup-1"},
		{Timestamp: now.Add(2 * time.Second), TokenID: "tok-dup", Side: types.SELL, Price: 0.52, Size: 2, TradeID: "dup-2"},
	}
	n, err := st.InsertTrades(ctx, batchWithDup)
	if err != nil {
		t.Fatalf("InsertTrades() with duplicate = %v", err)
	}
	if n != len(batchWithDup) {
		t.Errorf("InsertTrades() returned %d, want batch size %d", n, len(batchWithDup))
	}

	recent, err := st.GetRecentTrades(ctx, "tok-dup", 10)
	if err != nil {
		t.Fatalf("GetRecentTrades() = %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("GetRecentTrades() returned %d rows, want 2 (dup-1 once, dup-2 once)", len(recent))
	}
}

func TestGetTradeCount(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.InsertTrades(ctx, []types.Trade{
		{Timestamp: time.Now().UTC(), TokenID: "tok-count-trade", Side: types.BUY, Price: 0.5, Size: 1},
	}); err != nil {
		t.Fatalf("InsertTrades() = %v", err)
	}

	count, err := st.GetTradeCount(ctx, "tok-count-trade")
	if err != nil {
		t.Fatalf("GetTradeCount() = %v", err)
	}
	if count < 1 {
		t.Errorf("GetTradeCount() = %d, want >= 1", count)
	}
}
