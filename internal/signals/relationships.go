// Package signals detects cross-market relationships — same-event
// groupings, price correlation, sum-to-one mispricing — and turns them
// into actionable MarketSignal records. Every exported query is total:
// it returns an empty/nil result on DB error or missing data rather than
// propagating an error, so callers can aggregate across many markets
// without one bad query aborting the scan.
package signals

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polymarket-collector/internal/store"
	"polymarket-collector/pkg/types"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Store detects relationships and generates signals over the collector's
// persisted market/price/orderbook data.
type Store struct {
	pool    *pgxpool.Pool
	markets *store.Store
	logger  *slog.Logger
}

// New builds a signals.Store bound to the same pool the collector writes
// through.
func New(markets *store.Store, logger *slog.Logger) *Store {
	return &Store{pool: markets.Pool(), markets: markets, logger: logger.With("component", "signals")}
}

// FindSameEventMarkets groups active, non-closed markets with at least
// one outcome token by slug prefix (the slug with a trailing "-<digits>"
// suffix stripped, or the whole slug if there's no such suffix), and
// returns only groups with 2 or more markets — single-market groups can't
// exhibit a sum-to-one constraint.
func (s *Store) FindSameEventMarkets(ctx context.Context) []types.MarketGroup {
	rows, err := s.pool.Query(ctx, `
		SELECT condition_id, slug, clob_token_ids
		FROM markets
		WHERE active = true
		  AND closed = false
		  AND slug IS NOT NULL
		  AND array_length(clob_token_ids, 1) > 0
		ORDER BY slug
	`)
	if err != nil {
		s.logger.Warn("find same event markets failed", "error", err)
		return nil
	}
	defer rows.Close()

	byPrefix := make(map[string]*types.MarketGroup)
	var order []string
	for rows.Next() {
		var conditionID, slug string
		var tokenIDs []string
		if err := rows.Scan(&conditionID, &slug, &tokenIDs); err != nil {
			s.logger.Warn("scan same event market failed", "error", err)
			return nil
		}
		prefix := slugPrefix(slug)
		g, ok := byPrefix[prefix]
		if !ok {
			g = &types.MarketGroup{SlugPrefix: prefix}
			byPrefix[prefix] = g
			order = append(order, prefix)
		}
		g.ConditionIDs = append(g.ConditionIDs, conditionID)
		g.TokenIDs = append(g.TokenIDs, tokenIDs...)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("find same event markets failed", "error", err)
		return nil
	}

	var out []types.MarketGroup
	for _, prefix := range order {
		g := byPrefix[prefix]
		if len(g.ConditionIDs) >= 2 {
			out = append(out, *g)
		}
	}
	return out
}

// slugPrefix strips a trailing "-<digits>" suffix from a market slug to
// recover its event prefix, e.g. "us-election-2024-winner-2" ->
// "us-election-2024-winner".
func slugPrefix(slug string) string {
	idx := strings.LastIndex(slug, "-")
	if idx == -1 {
		return slug
	}
	suffix := slug[idx+1:]
	if suffix == "" || !isAllDigits(suffix) {
		return slug
	}
	return slug[:idx]
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ComputePriceCorrelation buckets both tokens' price history on 1-hour
// buckets (last price per bucket), aligns on bucket key, and returns the
// Pearson correlation over the aligned pairs. Nil if fewer than 2
// overlapping points or on error.
func (s *Store) ComputePriceCorrelation(ctx context.Context, tokenA, tokenB string, lookbackHours int) *float64 {
	row := s.pool.QueryRow(ctx, `
		WITH ref AS (
			SELECT GREATEST(
				(SELECT MAX(ts) FROM price_snapshots WHERE token_id = $1),
				(SELECT MAX(ts) FROM price_snapshots WHERE token_id = $2)
			) AS max_ts
		),
		a AS (
			SELECT
				time_bucket('1 hour', ts) AS bucket,
				last(price, ts) AS price
			FROM price_snapshots, ref
			WHERE token_id = $1
			  AND ts >= ref.max_ts - ($3 || ' hours')::interval
			GROUP BY bucket
		),
		b AS (
			SELECT
				time_bucket('1 hour', ts) AS bucket,
				last(price, ts) AS price
			FROM price_snapshots, ref
			WHERE token_id = $2
			  AND ts >= ref.max_ts - ($3 || ' hours')::interval
			GROUP BY bucket
		),
		aligned AS (
			SELECT a.price AS pa, b.price AS pb
			FROM a
			JOIN b ON a.bucket = b.bucket
		)
		SELECT corr(pa, pb) AS correlation
		FROM aligned
	`, tokenA, tokenB, lookbackHours)

	var correlation *float64
	if err := row.Scan(&correlation); err != nil {
		if !isNoRows(err) {
			s.logger.Warn("compute price correlation failed", "token_a", tokenA, "token_b", tokenB, "error", err)
		}
		return nil
	}
	return correlation
}

// FindCorrelatedPairs picks the maxTokens tokens (50 when maxTokens is not
// positive) with the densest price history in the lookback window, computes
// pairwise correlations among them, and returns triples meeting
// minCorrelation, sorted by |r| descending.
func (s *Store) FindCorrelatedPairs(ctx context.Context, minCorrelation float64, lookbackHours, maxTokens int) []types.CorrelatedPair {
	if maxTokens <= 0 {
		maxTokens = 50
	}
	tokenIDs, err := s.densestTokens(ctx, lookbackHours, maxTokens)
	if err != nil {
		s.logger.Warn("find correlated pairs: densest tokens query failed", "error", err)
		return nil
	}
	if len(tokenIDs) < 2 {
		return nil
	}

	var out []types.CorrelatedPair
	for i, a := range tokenIDs {
		for _, b := range tokenIDs[i+1:] {
			corr := s.ComputePriceCorrelation(ctx, a, b, lookbackHours)
			if corr == nil {
				continue
			}
			if abs(*corr) >= minCorrelation {
				out = append(out, types.CorrelatedPair{TokenA: a, TokenB: b, Correlation: *corr})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return abs(out[i].Correlation) > abs(out[j].Correlation)
	})
	return out
}

func (s *Store) densestTokens(ctx context.Context, lookbackHours, maxTokens int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_id
		FROM price_snapshots ps
		WHERE ts >= (
			SELECT MAX(ts) FROM price_snapshots WHERE token_id = ps.token_id
		) - ($1 || ' hours')::interval
		GROUP BY token_id
		ORDER BY count(*) DESC
		LIMIT $2
	`, lookbackHours, maxTokens)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tokenID string
		if err := rows.Scan(&tokenID); err != nil {
			return nil, err
		}
		out = append(out, tokenID)
	}
	return out, rows.Err()
}

// DetectMispricing reads the latest price of each market's index-0 (YES)
// token in the group, sums them, and compares the sum to 1.0. If the
// deviation exceeds tolerance, returns one Mispricing classifying every
// token uniformly: all "underpriced" if the sum is short of 1.0, all
// "overpriced" if it exceeds 1.0 — the group-wide classification spec.md
// calls for, not a per-token fair-price split.
func (s *Store) DetectMispricing(ctx context.Context, group types.MarketGroup, tolerance float64) []types.Mispricing {
	if len(group.ConditionIDs) == 0 {
		return nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT condition_id, clob_token_ids
		FROM markets
		WHERE condition_id = ANY($1::text[])
	`, group.ConditionIDs)
	if err != nil {
		s.logger.Warn("detect mispricing: market lookup failed", "group", group.SlugPrefix, "error", err)
		return nil
	}

	type marketRow struct {
		conditionID string
		tokenIDs    []string
	}
	var markets []marketRow
	for rows.Next() {
		var mr marketRow
		if err := rows.Scan(&mr.conditionID, &mr.tokenIDs); err != nil {
			rows.Close()
			s.logger.Warn("scan mispricing market failed", "error", err)
			return nil
		}
		markets = append(markets, mr)
	}
	closeErr := rows.Err()
	rows.Close()
	if closeErr != nil {
		s.logger.Warn("detect mispricing: market lookup failed", "group", group.SlugPrefix, "error", closeErr)
		return nil
	}
	if len(markets) == 0 {
		return nil
	}

	yesPrices := make(map[string]float64)
	for _, mr := range markets {
		if len(mr.tokenIDs) == 0 {
			continue
		}
		yesToken := mr.tokenIDs[0]
		price, ok := s.latestPrice(ctx, yesToken)
		if ok {
			yesPrices[yesToken] = price
		}
	}
	if len(yesPrices) == 0 {
		return nil
	}

	var yesSum float64
	for _, p := range yesPrices {
		yesSum += p
	}
	deviation := yesSum - 1.0
	if abs(deviation) <= tolerance {
		return nil
	}

	var underpriced, overpriced []string
	if deviation < 0 {
		for t := range yesPrices {
			underpriced = append(underpriced, t)
		}
	} else {
		for t := range yesPrices {
			overpriced = append(overpriced, t)
		}
	}
	sort.Strings(underpriced)
	sort.Strings(overpriced)

	return []types.Mispricing{{
		ConditionIDs:        group.ConditionIDs,
		YesSum:              yesSum,
		Deviation:           deviation,
		UnderpricedTokenIDs: underpriced,
		OverpricedTokenIDs:  overpriced,
	}}
}

func (s *Store) latestPrice(ctx context.Context, tokenID string) (float64, bool) {
	row := s.pool.QueryRow(ctx, `
		SELECT price FROM price_snapshots WHERE token_id = $1 ORDER BY ts DESC LIMIT 1
	`, tokenID)
	var price float64
	if err := row.Scan(&price); err != nil {
		return 0, false
	}
	return price, true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
