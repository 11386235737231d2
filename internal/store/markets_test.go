package store

import (
	"context"
	"testing"

	"polymarket-collector/pkg/types"
)

func TestUpsertAndGetMarket(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := types.Market{
		ConditionID: "cond-test-1",
		Question:    "Will it rain tomorrow?",
		Slug:        "will-it-rain-tomorrow",
		MarketType:  "binary",
		Outcomes:    []string{"Yes", "No"},
		TokenIDs:    []string{"tok-yes", "tok-no"},
		Active:      true,
		Closed:      false,
		EndDate:     "2026-12-31",
	}
	if err := st.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMarket() = %v", err)
	}

	got, err := st.GetMarket(ctx, m.ConditionID)
	if err != nil {
		t.Fatalf("GetMarket() = %v", err)
	}
	if got == nil {
		t.Fatal("GetMarket() = nil, want a market")
	}
	if got.Question != m.Question || len(got.Outcomes) != 2 {
		t.Errorf("GetMarket() = %+v, want question %q with 2 outcomes", got, m.Question)
	}

	m.Question = "Will it rain tomorrow in NYC?"
	if err := st.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMarket() (update) = %v", err)
	}
	got, err = st.GetMarket(ctx, m.ConditionID)
	if err != nil {
		t.Fatalf("GetMarket() = %v", err)
	}
	if got.Question != m.Question {
		t.Errorf("GetMarket() after update = %q, want %q", got.Question, m.Question)
	}
}

func TestGetMarketMissingReturnsNil(t *testing.T) {
	st := openTestStore(t)
	got, err := st.GetMarket(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetMarket() = %v", err)
	}
	if got != nil {
		t.Errorf("GetMarket() = %+v, want nil", got)
	}
}

func TestMarkClosed(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := types.Market{ConditionID: "cond-test-close", Question: "q", Active: true}
	if err := st.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMarket() = %v", err)
	}
	if err := st.MarkClosed(ctx, []string{m.ConditionID}); err != nil {
		t.Fatalf("MarkClosed() = %v", err)
	}
	got, err := st.GetMarket(ctx, m.ConditionID)
	if err != nil {
		t.Fatalf("GetMarket() = %v", err)
	}
	if !got.Closed {
		t.Error("expected market to be closed")
	}
}

func TestGetActiveMarketsExcludesClosed(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	active := types.Market{ConditionID: "cond-active-1", Question: "active", Active: true}
	closed := types.Market{ConditionID: "cond-closed-1", Question: "closed", Active: true, Closed: true}
	if err := st.UpsertMarket(ctx, active); err != nil {
		t.Fatalf("UpsertMarket() = %v", err)
	}
	if err := st.UpsertMarket(ctx, closed); err != nil {
		t.Fatalf("UpsertMarket() = %v", err)
	}

	markets, err := st.GetActiveMarkets(ctx)
	if err != nil {
		t.Fatalf("GetActiveMarkets() = %v", err)
	}
	for _, m := range markets {
		if m.ConditionID == closed.ConditionID {
			t.Error("GetActiveMarkets() returned a closed market")
		}
	}
}
