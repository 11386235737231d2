package store

import (
	"context"
	"testing"
	"time"

	"polymarket-collector/pkg/types"
)

func TestInsertAndGetLatestPrices(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	snapshots := []types.PriceSnapshot{
		{Timestamp: now.Add(-time.Minute), TokenID: "tok-a", Price: 0.40, Volume24h: 100},
		{Timestamp: now, TokenID: "tok-a", Price: 0.45, Volume24h: 110},
		{Timestamp: now, TokenID: "tok-b", Price: 0.60, Volume24h: 200},
	}
	n, err := st.InsertPriceSnapshots(ctx, snapshots)
	if err != nil {
		t.Fatalf("InsertPriceSnapshots() = %v", err)
	}
	if n != int64(len(snapshots)) {
		t.Errorf("InsertPriceSnapshots() copied %d, want %d", n, len(snapshots))
	}

	latest, err := st.GetLatestPrices(ctx, []string{"tok-a", "tok-b", "tok-missing"})
	if err != nil {
		t.Fatalf("GetLatestPrices() = %v", err)
	}
	if got := latest["tok-a"].Price; got != 0.45 {
		t.Errorf("latest tok-a price = %v, want 0.45", got)
	}
	if _, ok := latest["tok-missing"]; ok {
		t.Error("did not expect a snapshot for tok-missing")
	}
}

func TestGetPriceHistoryRespectsWindowAndLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	var snapshots []types.PriceSnapshot
	for i := 0; i < 5; i++ {
		snapshots = append(snapshots, types.PriceSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			TokenID:   "tok-history",
			Price:     float64(i) / 10,
		})
	}
	if _, err := st.InsertPriceSnapshots(ctx, snapshots); err != nil {
		t.Fatalf("InsertPriceSnapshots() = %v", err)
	}

	history, err := st.GetPriceHistory(ctx, "tok-history", base, base.Add(3*time.Hour), 2)
	if err != nil {
		t.Fatalf("GetPriceHistory() = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("GetPriceHistory() returned %d rows, want 2", len(history))
	}
	if history[0].Timestamp.Before(history[1].Timestamp) {
		t.Error("GetPriceHistory() not descending by time")
	}
}

func TestGetPriceCountFiltersByToken(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := st.InsertPriceSnapshots(ctx, []types.PriceSnapshot{
		{Timestamp: now, TokenID: "tok-count", Price: 0.5},
	}); err != nil {
		t.Fatalf("InsertPriceSnapshots() = %v", err)
	}

	count, err := st.GetPriceCount(ctx, "tok-count")
	if err != nil {
		t.Fatalf("GetPriceCount() = %v", err)
	}
	if count < 1 {
		t.Errorf("GetPriceCount() = %d, want >= 1", count)
	}
}
