// Package collector implements the four polling collectors (metadata,
// prices, order books, resolutions) and the WebSocket trade listener that
// make up the ingestion pipeline. Each polling collector exposes a single
// CollectOnce(ctx) (int, error) method the supervisor calls on its own
// cadence; the trade listener (trades.go) instead runs continuously via
// Run. None of them ever panics on a malformed upstream payload — they skip
// the offending item and log.
package collector

import (
	"context"
	"log/slog"

	"polymarket-collector/internal/store"
	"polymarket-collector/internal/upstream"
	"polymarket-collector/pkg/types"
)

// MetadataCollector upserts market metadata from Gamma events.
type MetadataCollector struct {
	store  *store.Store
	client *upstream.Client
	logger *slog.Logger
}

// NewMetadataCollector builds a MetadataCollector.
func NewMetadataCollector(st *store.Store, client *upstream.Client, logger *slog.Logger) *MetadataCollector {
	return &MetadataCollector{store: st, client: client, logger: logger.With("collector", "metadata")}
}

// CollectOnce fetches all active events, flattens their markets, and
// upserts every market with a condition id. Returns the number of markets
// upserted. Never returns an error the caller must treat as fatal — any
// upstream failure is logged and yields a zero count.
func (c *MetadataCollector) CollectOnce(ctx context.Context) (int, error) {
	events, err := c.client.GetAllActiveMarkets(ctx, 0)
	if err != nil {
		c.logger.Error("fetch active events failed", "error", err)
		return 0, nil
	}

	markets := extractMarkets(events)
	if len(markets) == 0 {
		c.logger.Info("no markets extracted", "events", len(events))
		return 0, nil
	}

	n, err := c.store.UpsertMarkets(ctx, markets)
	if err != nil {
		c.logger.Error("upsert markets failed", "error", err)
		return n, nil
	}
	c.logger.Info("upserted markets", "count", n, "events", len(events))
	return n, nil
}

func extractMarkets(events []upstream.RawEvent) []types.Market {
	var out []types.Market
	for _, event := range events {
		for _, raw := range event.Markets {
			m, ok := extractMarket(raw)
			if ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func extractMarket(raw upstream.RawMarket) (types.Market, bool) {
	if raw.ConditionID == "" {
		return types.Market{}, false
	}
	return types.Market{
		ConditionID: raw.ConditionID,
		Question:    raw.Question,
		Slug:        raw.Slug,
		MarketType:  raw.MarketType,
		Outcomes:    raw.OutcomeLabels(),
		TokenIDs:    raw.TokenIDs(),
		Active:      raw.IsActive(),
		Closed:      raw.IsClosed(),
		EndDate:     raw.EndDateISO,
	}, true
}
