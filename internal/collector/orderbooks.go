package collector

import (
	"context"
	"log/slog"
	"time"

	"polymarket-collector/internal/store"
	"polymarket-collector/internal/upstream"
	"polymarket-collector/pkg/types"
)

// orderbookChunkSize is a transport-safety knob, not a correctness boundary
// — it bounds how many token ids are requested per CLOB batch call.
const orderbookChunkSize = 20

// OrderbookCollector snapshots the order book for every active market's
// token ids.
type OrderbookCollector struct {
	store  *store.Store
	client *upstream.Client
	logger *slog.Logger
}

// NewOrderbookCollector builds an OrderbookCollector.
func NewOrderbookCollector(st *store.Store, client *upstream.Client, logger *slog.Logger) *OrderbookCollector {
	return &OrderbookCollector{store: st, client: client, logger: logger.With("collector", "orderbooks")}
}

// CollectOnce reads active markets from the Store, flattens their token
// ids, fetches order books in chunks of orderbookChunkSize, computes
// spread/midpoint, and batch-inserts snapshots. Returns the number
// inserted.
func (c *OrderbookCollector) CollectOnce(ctx context.Context) (int, error) {
	markets, err := c.store.GetActiveMarkets(ctx)
	if err != nil {
		c.logger.Error("get active markets failed", "error", err)
		return 0, nil
	}

	var tokenIDs []string
	for _, m := range markets {
		tokenIDs = append(tokenIDs, m.TokenIDs...)
	}
	if len(tokenIDs) == 0 {
		c.logger.Info("no active markets, skipping orderbook collection")
		return 0, nil
	}

	ts := time.Now().UTC()
	var snapshots []types.OrderbookSnapshot

	for start := 0; start < len(tokenIDs); start += orderbookChunkSize {
		end := start + orderbookChunkSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		chunk := tokenIDs[start:end]

		books, err := c.client.GetOrderbooks(ctx, chunk)
		if err != nil {
			c.logger.Warn("fetch orderbooks chunk failed", "error", err, "size", len(chunk))
			continue
		}

		for i, book := range books {
			if i >= len(chunk) {
				break
			}
			snapshots = append(snapshots, extractOrderbookSnapshot(chunk[i], book, ts))
		}
	}

	n, err := c.store.InsertOrderbookSnapshots(ctx, snapshots)
	if err != nil {
		c.logger.Error("insert orderbook snapshots failed", "error", err)
		return n, nil
	}
	c.logger.Info("inserted orderbook snapshots", "count", n, "tokens", len(tokenIDs))
	return n, nil
}

func extractOrderbookSnapshot(tokenID string, book upstream.OrderbookResponse, ts time.Time) types.OrderbookSnapshot {
	bids := convertLevels(book.Bids)
	asks := convertLevels(book.Asks)

	var spread, midpoint *float64
	if len(bids) > 0 && len(asks) > 0 {
		bestBid := bids[0].Price
		bestAsk := asks[0].Price
		s := bestAsk - bestBid
		mid := (bestAsk + bestBid) / 2
		spread = &s
		midpoint = &mid
	}

	return types.OrderbookSnapshot{
		Timestamp: ts,
		TokenID:   tokenID,
		Bids:      bids,
		Asks:      asks,
		Spread:    spread,
		Midpoint:  midpoint,
	}
}

func convertLevels(sides []upstream.OrderbookSide) []types.OrderbookLevel {
	if len(sides) == 0 {
		return nil
	}
	out := make([]types.OrderbookLevel, 0, len(sides))
	for _, s := range sides {
		price, err := parseFloat(s.Price)
		if err != nil {
			continue
		}
		size, err := parseFloat(s.Size)
		if err != nil {
			continue
		}
		out = append(out, types.OrderbookLevel{Price: price, Size: size})
	}
	return out
}
