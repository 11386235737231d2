package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-collector/internal/store"
	"polymarket-collector/internal/upstream"
	"polymarket-collector/pkg/types"
)

// PriceCollector bulk-inserts per-token price snapshots from Gamma events.
// This is the highest-volume collector (thousands of rows per cycle), so it
// writes via the Store's COPY path.
type PriceCollector struct {
	store     *store.Store
	client    *upstream.Client
	maxEvents int
	logger    *slog.Logger
}

// NewPriceCollector builds a PriceCollector. maxEvents caps pagination (0 =
// unbounded).
func NewPriceCollector(st *store.Store, client *upstream.Client, maxEvents int, logger *slog.Logger) *PriceCollector {
	return &PriceCollector{store: st, client: client, maxEvents: maxEvents, logger: logger.With("collector", "prices")}
}

// CollectOnce captures one wall-clock timestamp, fetches paginated active
// events, extracts index-aligned (token_id, price) pairs per market, and
// bulk-inserts the resulting snapshots. Returns the number inserted.
func (c *PriceCollector) CollectOnce(ctx context.Context) (int, error) {
	ts := time.Now().UTC()

	events, err := c.client.GetAllActiveMarkets(ctx, c.maxEvents)
	if err != nil {
		c.logger.Error("fetch active events failed", "error", err)
		return 0, nil
	}

	snapshots := extractPriceSnapshots(events, ts, c.logger)
	if len(snapshots) == 0 {
		c.logger.Info("no price tuples extracted", "events", len(events))
		return 0, nil
	}

	n, err := c.store.InsertPriceSnapshots(ctx, snapshots)
	if err != nil {
		c.logger.Error("insert price snapshots failed", "error", err)
		return 0, nil
	}
	c.logger.Info("inserted price snapshots", "count", n, "events", len(events))
	return int(n), nil
}

func extractPriceSnapshots(events []upstream.RawEvent, ts time.Time, logger *slog.Logger) []types.PriceSnapshot {
	var out []types.PriceSnapshot
	for _, event := range events {
		for _, market := range event.Markets {
			tokenIDs := market.TokenIDs()
			prices := market.OutcomePrices()
			if tokenIDs == nil || prices == nil {
				logger.Warn("skipping market, malformed clobTokenIds or outcomePrices", "condition_id", market.ConditionID)
				continue
			}

			n := len(tokenIDs)
			if len(prices) < n {
				n = len(prices)
			}
			for i := 0; i < n; i++ {
				if tokenIDs[i] == "" {
					continue
				}
				price, err := decimal.NewFromString(prices[i])
				if err != nil {
					continue
				}
				out = append(out, types.PriceSnapshot{
					Timestamp: ts,
					TokenID:   tokenIDs[i],
					Price:     price.InexactFloat64(),
					Volume24h: market.Volume24h(),
				})
			}
		}
	}
	return out
}
