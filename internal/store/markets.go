package store

import (
	"context"
	"fmt"

	"polymarket-collector/pkg/types"
)

// UpsertMarket inserts or replaces a market by condition_id, bumping
// updated_at. Idempotent: re-upserting the same condition_id leaves exactly
// one row.
func (s *Store) UpsertMarket(ctx context.Context, m types.Market) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO markets (condition_id, question, slug, market_type, outcomes, clob_token_ids, active, closed, end_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (condition_id) DO UPDATE SET
			question = EXCLUDED.question,
			slug = EXCLUDED.slug,
			market_type = EXCLUDED.market_type,
			outcomes = EXCLUDED.outcomes,
			clob_token_ids = EXCLUDED.clob_token_ids,
			active = EXCLUDED.active,
			closed = EXCLUDED.closed,
			end_date = EXCLUDED.end_date,
			updated_at = now()
	`, m.ConditionID, m.Question, m.Slug, m.MarketType, m.Outcomes, m.TokenIDs, m.Active, m.Closed, m.EndDate)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.ConditionID, err)
	}
	return nil
}

// UpsertMarkets upserts each market in turn. Not performance-critical (the
// metadata cycle runs on a multi-minute cadence over at most thousands of
// rows), so a loop over UpsertMarket is preferred over a bespoke bulk-upsert
// statement.
func (s *Store) UpsertMarkets(ctx context.Context, markets []types.Market) (int, error) {
	count := 0
	for _, m := range markets {
		if err := s.UpsertMarket(ctx, m); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// GetMarket returns a single market by condition_id, or nil if not found.
func (s *Store) GetMarket(ctx context.Context, conditionID string) (*types.Market, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT condition_id, question, slug, market_type, outcomes, clob_token_ids, active, closed, end_date, created_at, updated_at
		FROM markets WHERE condition_id = $1
	`, conditionID)

	var m types.Market
	if err := row.Scan(&m.ConditionID, &m.Question, &m.Slug, &m.MarketType, &m.Outcomes, &m.TokenIDs, &m.Active, &m.Closed, &m.EndDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get market %s: %w", conditionID, err)
	}
	return &m, nil
}

// GetActiveMarkets returns every active, non-closed market, newest first.
func (s *Store) GetActiveMarkets(ctx context.Context) ([]types.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT condition_id, question, slug, market_type, outcomes, clob_token_ids, active, closed, end_date, created_at, updated_at
		FROM markets WHERE active = true AND closed = false ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("get active markets: %w", err)
	}
	defer rows.Close()

	var out []types.Market
	for rows.Next() {
		var m types.Market
		if err := rows.Scan(&m.ConditionID, &m.Question, &m.Slug, &m.MarketType, &m.Outcomes, &m.TokenIDs, &m.Active, &m.Closed, &m.EndDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan active market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMarketsByIDs returns the markets matching any of the given condition ids.
func (s *Store) GetMarketsByIDs(ctx context.Context, conditionIDs []string) ([]types.Market, error) {
	if len(conditionIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT condition_id, question, slug, market_type, outcomes, clob_token_ids, active, closed, end_date, created_at, updated_at
		FROM markets WHERE condition_id = ANY($1::text[])
	`, conditionIDs)
	if err != nil {
		return nil, fmt.Errorf("get markets by ids: %w", err)
	}
	defer rows.Close()

	var out []types.Market
	for rows.Next() {
		var m types.Market
		if err := rows.Scan(&m.ConditionID, &m.Question, &m.Slug, &m.MarketType, &m.Outcomes, &m.TokenIDs, &m.Active, &m.Closed, &m.EndDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkClosed sets closed = true for every condition id given, if not already.
func (s *Store) MarkClosed(ctx context.Context, conditionIDs []string) error {
	if len(conditionIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE markets SET closed = true, updated_at = now()
		WHERE condition_id = ANY($1::text[]) AND closed = false
	`, conditionIDs)
	if err != nil {
		return fmt.Errorf("mark closed: %w", err)
	}
	return nil
}
