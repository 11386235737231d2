// Package features computes statistical features directly in SQL —
// price returns, rolling volatility, spread history, order-book
// imbalance, and trade volume profile — using TimescaleDB window
// functions over the Store's time-series tables. Every query returns a
// zero value (nil slice, nil pointer, zero struct) on error rather than
// propagating it, so callers can aggregate results for many tokens
// without one bad query aborting the batch.
package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polymarket-collector/internal/store"
	"polymarket-collector/pkg/types"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// levelsPayload mirrors the JSONB shape internal/store uses for order-book
// levels, decoded here directly since imbalance needs the raw sizes.
type levelsPayload struct {
	Levels []types.OrderbookLevel `json:"levels"`
}

func (p *levelsPayload) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported scan type %T for levelsPayload", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, p)
}

var intervalPattern = regexp.MustCompile(`(?i)^(\d+)\s*(m|min|minute|minutes|h|hr|hour|hours|d|day|days)$`)

var intervalUnits = map[string]time.Duration{
	"m": time.Minute, "min": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// parseInterval converts a short interval string like "1h" or "15m" to a
// Duration. Returns an error for anything the pattern doesn't recognize.
func parseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("cannot parse interval string: %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("cannot parse interval string: %q", s)
	}
	unit := intervalUnits[strings.ToLower(m[2])]
	return time.Duration(n) * unit, nil
}

// pgInterval renders a Duration as a Postgres interval literal suitable
// for casting with ::interval.
func pgInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

// Store computes feature queries over the collector's TimescaleDB tables.
type Store struct {
	pool    *pgxpool.Pool
	markets *store.Store
	logger  *slog.Logger
}

// New builds a features.Store bound to the same pool the collector writes
// through. markets is used by GetMarketFeatures to resolve a condition id's
// token ids.
func New(markets *store.Store, logger *slog.Logger) *Store {
	return &Store{pool: markets.Pool(), markets: markets, logger: logger.With("component", "features")}
}

// GetPriceReturns buckets price_snapshots into intervals and computes the
// percentage return between consecutive buckets over the trailing
// lookbackHours, ordered oldest first.
func (s *Store) GetPriceReturns(ctx context.Context, tokenID, interval string, lookbackHours int) []types.PriceReturn {
	bucket, err := parseInterval(interval)
	if err != nil {
		s.logger.Warn("get price returns: bad interval", "interval", interval, "error", err)
		return nil
	}

	rows, err := s.pool.Query(ctx, `
		WITH latest AS (
			SELECT MAX(ts) AS max_ts FROM price_snapshots WHERE token_id = $2
		),
		bucketed AS (
			SELECT
				time_bucket($1::interval, ts) AS bucket,
				last(price, ts) AS price
			FROM price_snapshots, latest
			WHERE token_id = $2
			  AND ts >= latest.max_ts - ($3 || ' hours')::interval
			GROUP BY bucket
			ORDER BY bucket
		)
		SELECT
			bucket,
			(price - LAG(price) OVER (ORDER BY bucket))
				/ NULLIF(LAG(price) OVER (ORDER BY bucket), 0) * 100.0
				AS return_pct
		FROM bucketed
	`, pgInterval(bucket), tokenID, lookbackHours)
	if err != nil {
		s.logger.Warn("get price returns failed", "token_id", tokenID, "error", err)
		return nil
	}
	defer rows.Close()

	var out []types.PriceReturn
	for rows.Next() {
		var bucketTs time.Time
		var returnPct *float64
		if err := rows.Scan(&bucketTs, &returnPct); err != nil {
			s.logger.Warn("scan price return failed", "error", err)
			return nil
		}
		if returnPct == nil {
			continue
		}
		out = append(out, types.PriceReturn{Bucket: bucketTs, ReturnPct: *returnPct})
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("get price returns failed", "token_id", tokenID, "error", err)
		return nil
	}
	return out
}

// GetRollingVolatility is the standard deviation of 1-minute price returns
// over windowHours, or nil if there's insufficient data.
func (s *Store) GetRollingVolatility(ctx context.Context, tokenID string, windowHours int) *float64 {
	row := s.pool.QueryRow(ctx, `
		WITH latest AS (
			SELECT MAX(ts) AS max_ts
			FROM price_snapshots
			WHERE token_id = $1
		),
		minute_prices AS (
			SELECT
				time_bucket('1 minute', ts) AS bucket,
				last(price, ts) AS price
			FROM price_snapshots, latest
			WHERE token_id = $1
			  AND ts >= latest.max_ts - ($2 || ' hours')::interval
			GROUP BY bucket
			ORDER BY bucket
		),
		returns AS (
			SELECT
				(price - LAG(price) OVER (ORDER BY bucket))
					/ NULLIF(LAG(price) OVER (ORDER BY bucket), 0) * 100.0
					AS return_pct
			FROM minute_prices
		)
		SELECT stddev(return_pct) AS volatility
		FROM returns
		WHERE return_pct IS NOT NULL
	`, tokenID, windowHours)

	var volatility *float64
	if err := row.Scan(&volatility); err != nil {
		if !isNoRows(err) {
			s.logger.Warn("get rolling volatility failed", "token_id", tokenID, "error", err)
		}
		return nil
	}
	return volatility
}

// GetSpreadHistory returns (ts, spread, midpoint) observations from
// orderbook_snapshots over the trailing lookbackHours, oldest first.
func (s *Store) GetSpreadHistory(ctx context.Context, tokenID string, lookbackHours int) []types.SpreadPoint {
	rows, err := s.pool.Query(ctx, `
		WITH latest AS (
			SELECT MAX(ts) AS max_ts
			FROM orderbook_snapshots
			WHERE token_id = $1
		)
		SELECT os.ts, os.spread, os.midpoint
		FROM orderbook_snapshots os, latest
		WHERE os.token_id = $1
		  AND os.ts >= latest.max_ts - ($2 || ' hours')::interval
		ORDER BY os.ts ASC
	`, tokenID, lookbackHours)
	if err != nil {
		s.logger.Warn("get spread history failed", "token_id", tokenID, "error", err)
		return nil
	}
	defer rows.Close()

	var out []types.SpreadPoint
	for rows.Next() {
		var ts time.Time
		var spread, midpoint *float64
		if err := rows.Scan(&ts, &spread, &midpoint); err != nil {
			s.logger.Warn("scan spread history failed", "error", err)
			return nil
		}
		if spread == nil || midpoint == nil {
			continue
		}
		out = append(out, types.SpreadPoint{Timestamp: ts, Spread: *spread, Midpoint: *midpoint})
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("get spread history failed", "token_id", tokenID, "error", err)
		return nil
	}
	return out
}

// GetOrderbookImbalance is (bid_volume - ask_volume) / (bid_volume +
// ask_volume) from the most recent snapshot, in [-1, 1], or nil if there's
// no data or the book is empty on both sides.
func (s *Store) GetOrderbookImbalance(ctx context.Context, tokenID string) *float64 {
	row := s.pool.QueryRow(ctx, `
		SELECT bids, asks
		FROM orderbook_snapshots
		WHERE token_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`, tokenID)

	var bids, asks levelsPayload
	if err := row.Scan(&bids, &asks); err != nil {
		if !isNoRows(err) {
			s.logger.Warn("get orderbook imbalance failed", "token_id", tokenID, "error", err)
		}
		return nil
	}

	var bidVol, askVol float64
	for _, l := range bids.Levels {
		bidVol += l.Size
	}
	for _, l := range asks.Levels {
		askVol += l.Size
	}
	total := bidVol + askVol
	if total == 0 {
		return nil
	}
	imbalance := (bidVol - askVol) / total
	return &imbalance
}

// GetTradeVolumeProfile sums BUY/SELL trade sizes and counts over the
// trailing lookbackHours. Zero-valued on error or no data.
func (s *Store) GetTradeVolumeProfile(ctx context.Context, tokenID string, lookbackHours int) types.VolumeProfile {
	row := s.pool.QueryRow(ctx, `
		WITH latest AS (
			SELECT MAX(ts) AS max_ts FROM trades WHERE token_id = $1
		)
		SELECT
			COALESCE(SUM(CASE WHEN side = 'BUY'  THEN size ELSE 0 END), 0) AS buy_volume,
			COALESCE(SUM(CASE WHEN side = 'SELL' THEN size ELSE 0 END), 0) AS sell_volume,
			COUNT(*) AS trade_count
		FROM trades, latest
		WHERE token_id = $1
		  AND ts >= latest.max_ts - ($2 || ' hours')::interval
	`, tokenID, lookbackHours)

	var profile types.VolumeProfile
	if err := row.Scan(&profile.BuyVolume, &profile.SellVolume, &profile.TradeCount); err != nil {
		if !isNoRows(err) {
			s.logger.Warn("get trade volume profile failed", "token_id", tokenID, "error", err)
		}
		return types.VolumeProfile{}
	}
	return profile
}

// GetMarketFeatures combines every feature query above for each token in
// the given market, with the defaults from spec.md §4.11: a 1h return
// interval and 24h lookback everywhere. Returns nil if the market isn't
// found.
func (s *Store) GetMarketFeatures(ctx context.Context, conditionID string) *types.MarketFeatures {
	market, err := s.markets.GetMarket(ctx, conditionID)
	if err != nil || market == nil {
		if err != nil {
			s.logger.Warn("get market features: lookup failed", "condition_id", conditionID, "error", err)
		}
		return nil
	}

	tokens := make(map[string]types.TokenFeatures, len(market.TokenIDs))
	for _, tokenID := range market.TokenIDs {
		tokens[tokenID] = types.TokenFeatures{
			Returns:           s.GetPriceReturns(ctx, tokenID, "1h", 24),
			RollingVolatility: s.GetRollingVolatility(ctx, tokenID, 24),
			SpreadHistory:     s.GetSpreadHistory(ctx, tokenID, 24),
			Imbalance:         s.GetOrderbookImbalance(ctx, tokenID),
			VolumeProfile:     s.GetTradeVolumeProfile(ctx, tokenID, 24),
		}
	}
	return &types.MarketFeatures{ConditionID: conditionID, Tokens: tokens}
}
