package collector

import (
	"context"
	"log/slog"
	"time"

	"polymarket-collector/internal/store"
	"polymarket-collector/internal/upstream"
	"polymarket-collector/pkg/types"
)

const (
	resolutionMaxPages  = 3
	resolutionPageLimit = 100
)

// ResolutionCollector polls closed Gamma events for settled markets,
// infers the winning outcome from outcomePrices, and upserts the result.
type ResolutionCollector struct {
	store  *store.Store
	client *upstream.Client
	logger *slog.Logger
}

// NewResolutionCollector builds a ResolutionCollector.
func NewResolutionCollector(st *store.Store, client *upstream.Client, logger *slog.Logger) *ResolutionCollector {
	return &ResolutionCollector{store: st, client: client, logger: logger.With("collector", "resolutions")}
}

// CollectOnce paginates closed events (up to resolutionMaxPages pages),
// skips markets already resolved in the Store, infers a winner for the
// rest, upserts every inferred resolution, and marks every seen condition
// id closed. Returns the number of resolutions upserted.
func (c *ResolutionCollector) CollectOnce(ctx context.Context) (int, error) {
	markets, err := c.fetchClosedMarkets(ctx)
	if err != nil {
		c.logger.Error("fetch closed events failed", "error", err)
		return 0, nil
	}
	if len(markets) == 0 {
		return 0, nil
	}

	seen := make([]string, 0, len(markets))
	byConditionID := make(map[string]upstream.RawMarket, len(markets))
	for _, m := range markets {
		if m.ConditionID == "" {
			continue
		}
		seen = append(seen, m.ConditionID)
		byConditionID[m.ConditionID] = m
	}

	resolved, err := c.store.GetResolvedConditionIDs(ctx, seen)
	if err != nil {
		c.logger.Error("get resolved condition ids failed", "error", err)
		return 0, nil
	}

	count := 0
	for id, raw := range byConditionID {
		if resolved[id] {
			continue
		}
		r, ok := inferWinner(raw)
		if !ok {
			continue
		}
		if err := c.store.UpsertResolution(ctx, r); err != nil {
			c.logger.Error("upsert resolution failed", "error", err, "condition_id", id)
			continue
		}
		count++
	}

	if err := c.store.MarkClosed(ctx, seen); err != nil {
		c.logger.Error("mark closed failed", "error", err)
	}

	c.logger.Info("resolution collection complete", "resolved", count, "seen", len(seen))
	return count, nil
}

func (c *ResolutionCollector) fetchClosedMarkets(ctx context.Context) ([]upstream.RawMarket, error) {
	var markets []upstream.RawMarket
	for page := 0; page < resolutionMaxPages; page++ {
		events, err := c.client.GetClosedEvents(ctx, resolutionPageLimit, page*resolutionPageLimit)
		if err != nil {
			return nil, err
		}
		for _, event := range events {
			markets = append(markets, event.Markets...)
		}
		if len(events) < resolutionPageLimit {
			break
		}
	}
	return markets, nil
}

// inferWinner scans a raw market's outcomePrices for the first entry equal
// to 1.0 and index-aligns it with outcomes/clobTokenIds to build a
// Resolution. Returns false if the market has no 1.0 entry or its JSON
// fields are malformed — never an error, matching the upstream contract
// that a single malformed market cannot abort the collection cycle.
func inferWinner(raw upstream.RawMarket) (types.Resolution, bool) {
	if raw.ConditionID == "" {
		return types.Resolution{}, false
	}

	prices := raw.OutcomePrices()
	if len(prices) == 0 {
		return types.Resolution{}, false
	}

	winnerIdx := -1
	for i, p := range prices {
		v, err := parseFloat(p)
		if err != nil {
			continue
		}
		if v == 1.0 {
			winnerIdx = i
			break
		}
	}
	if winnerIdx == -1 {
		return types.Resolution{}, false
	}

	outcomes := raw.OutcomeLabels()
	tokenIDs := raw.TokenIDs()

	var outcome, winnerTokenID string
	if winnerIdx < len(outcomes) {
		outcome = outcomes[winnerIdx]
	}
	if winnerIdx < len(tokenIDs) {
		winnerTokenID = tokenIDs[winnerIdx]
	}

	return types.Resolution{
		ConditionID:     raw.ConditionID,
		Outcome:         outcome,
		WinnerTokenID:   winnerTokenID,
		PayoutPrice:     1.0,
		DetectionMethod: "polling",
		ResolvedAt:      time.Now().UTC(),
	}, true
}
