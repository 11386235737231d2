package collector

import (
	"log/slog"
	"testing"
	"time"

	"polymarket-collector/internal/upstream"
)

func TestExtractPriceSnapshotsIndexAligns(t *testing.T) {
	t.Parallel()
	events := []upstream.RawEvent{
		{Markets: []upstream.RawMarket{
			rawMarket(t, `{
				"conditionId": "cond-1",
				"clobTokenIds": "[\"tok-yes\", \"tok-no\"]",
				"outcomePrices": "[\"0.6\", \"0.4\"]",
				"volume24hr": 1234.5
			}`),
		}},
	}
	ts := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	got := extractPriceSnapshots(events, ts, slog.Default())
	if len(got) != 2 {
		t.Fatalf("extractPriceSnapshots() = %d snapshots, want 2", len(got))
	}
	if got[0].TokenID != "tok-yes" || got[0].Price != 0.6 {
		t.Errorf("snapshot[0] = %+v", got[0])
	}
	if got[0].Volume24h != 1234.5 {
		t.Errorf("snapshot[0].Volume24h = %v, want 1234.5", got[0].Volume24h)
	}
}

func TestExtractPriceSnapshotsSkipsMalformedMarket(t *testing.T) {
	t.Parallel()
	events := []upstream.RawEvent{
		{Markets: []upstream.RawMarket{
			rawMarket(t, `{"conditionId":"cond-bad","clobTokenIds":"not json","outcomePrices":"[\"0.5\"]"}`),
			rawMarket(t, `{"conditionId":"cond-good","clobTokenIds":"[\"tok-a\"]","outcomePrices":"[\"0.5\"]"}`),
		}},
	}
	got := extractPriceSnapshots(events, time.Now(), slog.Default())
	if len(got) != 1 || got[0].TokenID != "tok-a" {
		t.Errorf("extractPriceSnapshots() = %+v, want only tok-a", got)
	}
}

func TestExtractPriceSnapshotsSkipsEmptyTokenID(t *testing.T) {
	t.Parallel()
	events := []upstream.RawEvent{
		{Markets: []upstream.RawMarket{
			rawMarket(t, `{"conditionId":"cond-1","clobTokenIds":"[\"\", \"tok-b\"]","outcomePrices":"[\"0.1\", \"0.9\"]"}`),
		}},
	}
	got := extractPriceSnapshots(events, time.Now(), slog.Default())
	if len(got) != 1 || got[0].TokenID != "tok-b" {
		t.Errorf("extractPriceSnapshots() = %+v, want only tok-b", got)
	}
}
