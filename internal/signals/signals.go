package signals

import (
	"context"
	"sort"
	"time"

	"polymarket-collector/pkg/types"
)

// GenerateSameEventSignals scans same-event market groups for sum-to-one
// mispricings and emits one signal per affected token: buy for
// underpriced tokens when the group's YES prices sum short of 1.0, sell
// for overpriced tokens when they sum over.
func (s *Store) GenerateSameEventSignals(ctx context.Context) []types.MarketSignal {
	var out []types.MarketSignal
	for _, group := range s.FindSameEventMarkets(ctx) {
		for _, mp := range s.DetectMispricing(ctx, group, 0.02) {
			absDev := abs(mp.Deviation)
			strength := min1(absDev * 10.0)
			edgePct := absDev * 100.0

			var tokenIDs []string
			var direction types.Direction
			if mp.Deviation < 0 {
				tokenIDs, direction = mp.UnderpricedTokenIDs, types.DirectionBuy
			} else {
				tokenIDs, direction = mp.OverpricedTokenIDs, types.DirectionSell
			}

			for _, tokenID := range tokenIDs {
				out = append(out, types.MarketSignal{
					MarketID:   s.conditionIDForToken(ctx, tokenID),
					SignalType: types.SignalSameEvent,
					Direction:  direction,
					Strength:   strength,
					EdgePct:    edgePct,
					TokenID:    tokenID,
					Timestamp:  time.Now().UTC(),
				})
			}
		}
	}
	return out
}

// GenerateMeanReversionSignals computes a z-score for every token's
// latest price relative to its rolling mean/stddev over lookbackHours
// (min 5 data points), emitting sell when the price is far above the
// mean and buy when it's far below.
func (s *Store) GenerateMeanReversionSignals(ctx context.Context, zThreshold float64, lookbackHours int) []types.MarketSignal {
	rows, err := s.pool.Query(ctx, `
		WITH per_token_latest AS (
			SELECT token_id, MAX(ts) AS max_ts
			FROM price_snapshots
			GROUP BY token_id
		),
		stats AS (
			SELECT
				ps.token_id,
				avg(ps.price) AS mean_price,
				stddev(ps.price) AS std_price,
				last(ps.price, ps.ts) AS latest_price
			FROM price_snapshots ps
			JOIN per_token_latest ptl ON ps.token_id = ptl.token_id
			WHERE ps.ts >= ptl.max_ts - ($1 || ' hours')::interval
			GROUP BY ps.token_id
			HAVING count(*) >= 5
		)
		SELECT
			token_id,
			latest_price,
			mean_price,
			std_price,
			CASE
				WHEN std_price > 0
				THEN (latest_price - mean_price) / std_price
				ELSE 0
			END AS z_score
		FROM stats
	`, lookbackHours)
	if err != nil {
		s.logger.Warn("generate mean reversion signals failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []types.MarketSignal
	for rows.Next() {
		var tokenID string
		var latestPrice, meanPrice, stdPrice, z float64
		if err := rows.Scan(&tokenID, &latestPrice, &meanPrice, &stdPrice, &z); err != nil {
			s.logger.Warn("scan mean reversion row failed", "error", err)
			return nil
		}
		if abs(z) <= zThreshold {
			continue
		}

		direction := types.DirectionBuy
		if z > 0 {
			direction = types.DirectionSell
		}
		strength := min1(abs(z) / (zThreshold * 2))
		edgePct := (abs(z) - zThreshold) * stdPrice * 100.0

		out = append(out, types.MarketSignal{
			MarketID:   s.conditionIDForToken(ctx, tokenID),
			SignalType: types.SignalMeanReversion,
			Direction:  direction,
			Strength:   strength,
			EdgePct:    edgePct,
			TokenID:    tokenID,
			Timestamp:  time.Now().UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("generate mean reversion signals failed", "error", err)
		return nil
	}
	return out
}

// GenerateSpreadSignals reads the most recent order-book snapshot for
// every token with a non-null spread and positive midpoint, and emits a
// buy signal when the spread as a percentage of midpoint meets
// minEdgePct.
func (s *Store) GenerateSpreadSignals(ctx context.Context, minEdgePct float64) []types.MarketSignal {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (token_id)
			token_id, spread, midpoint
		FROM orderbook_snapshots
		WHERE spread IS NOT NULL
		  AND midpoint IS NOT NULL
		  AND midpoint > 0
		ORDER BY token_id, ts DESC
	`)
	if err != nil {
		s.logger.Warn("generate spread signals failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []types.MarketSignal
	for rows.Next() {
		var tokenID string
		var spread, midpoint float64
		if err := rows.Scan(&tokenID, &spread, &midpoint); err != nil {
			s.logger.Warn("scan spread signal row failed", "error", err)
			return nil
		}
		edgePct := (spread / midpoint) * 100.0
		if edgePct < minEdgePct {
			continue
		}
		strength := min1((edgePct - minEdgePct) / minEdgePct)

		out = append(out, types.MarketSignal{
			MarketID:   s.conditionIDForToken(ctx, tokenID),
			SignalType: types.SignalSpread,
			Direction:  types.DirectionBuy,
			Strength:   strength,
			EdgePct:    edgePct,
			TokenID:    tokenID,
			Timestamp:  time.Now().UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("generate spread signals failed", "error", err)
		return nil
	}
	return out
}

// GetAllSignals runs every generator, deduplicates by (token_id,
// signal_type) keeping the highest-strength signal, and sorts the result
// by strength descending.
func (s *Store) GetAllSignals(ctx context.Context) []types.MarketSignal {
	var raw []types.MarketSignal
	raw = append(raw, s.GenerateSameEventSignals(ctx)...)
	raw = append(raw, s.GenerateMeanReversionSignals(ctx, 2.0, 24)...)
	raw = append(raw, s.GenerateSpreadSignals(ctx, 2.0)...)

	type key struct {
		tokenID string
		kind    types.SignalType
	}
	best := make(map[key]types.MarketSignal, len(raw))
	for _, sig := range raw {
		k := key{sig.TokenID, sig.SignalType}
		if existing, ok := best[k]; !ok || sig.Strength > existing.Strength {
			best[k] = sig
		}
	}

	out := make([]types.MarketSignal, 0, len(best))
	for _, sig := range best {
		out = append(out, sig)
	}
	sortSignalsByStrengthDesc(out)
	return out
}

func (s *Store) conditionIDForToken(ctx context.Context, tokenID string) string {
	row := s.pool.QueryRow(ctx, `
		SELECT condition_id FROM markets WHERE $1 = ANY(clob_token_ids) LIMIT 1
	`, tokenID)
	var conditionID string
	if err := row.Scan(&conditionID); err != nil {
		return "unknown"
	}
	return conditionID
}

func min1(f float64) float64 {
	if f > 1 {
		return 1
	}
	return f
}

func sortSignalsByStrengthDesc(signals []types.MarketSignal) {
	sort.Slice(signals, func(i, j int) bool {
		return signals[i].Strength > signals[j].Strength
	})
}
