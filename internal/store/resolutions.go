package store

import (
	"context"
	"fmt"

	"polymarket-collector/pkg/types"
)

// UpsertResolution records a market's resolution outcome, idempotently.
func (s *Store) UpsertResolution(ctx context.Context, r types.Resolution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resolutions (condition_id, outcome, winner_token_id, payout_price, detection_method, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (condition_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			winner_token_id = EXCLUDED.winner_token_id,
			payout_price = EXCLUDED.payout_price,
			detection_method = EXCLUDED.detection_method,
			resolved_at = EXCLUDED.resolved_at
	`, r.ConditionID, r.Outcome, r.WinnerTokenID, r.PayoutPrice, r.DetectionMethod, r.ResolvedAt)
	if err != nil {
		return fmt.Errorf("upsert resolution %s: %w", r.ConditionID, err)
	}
	return nil
}

// GetResolution returns a market's resolution, or nil if not yet resolved.
func (s *Store) GetResolution(ctx context.Context, conditionID string) (*types.Resolution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT condition_id, outcome, winner_token_id, payout_price, detection_method, resolved_at
		FROM resolutions WHERE condition_id = $1
	`, conditionID)

	var r types.Resolution
	if err := row.Scan(&r.ConditionID, &r.Outcome, &r.WinnerTokenID, &r.PayoutPrice, &r.DetectionMethod, &r.ResolvedAt); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get resolution %s: %w", conditionID, err)
	}
	return &r, nil
}

// GetResolvedConditionIDs returns the subset of the given condition ids that
// already have a resolutions row, used by the resolution collector to avoid
// re-inferring markets it has already settled.
func (s *Store) GetResolvedConditionIDs(ctx context.Context, conditionIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(conditionIDs))
	if len(conditionIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT condition_id FROM resolutions WHERE condition_id = ANY($1::text[])
	`, conditionIDs)
	if err != nil {
		return nil, fmt.Errorf("get resolved condition ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan resolved condition id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// GetUnresolvedMarkets returns closed markets with no resolutions row yet,
// most recently updated first.
func (s *Store) GetUnresolvedMarkets(ctx context.Context) ([]types.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.condition_id, m.question, m.slug, m.market_type, m.outcomes, m.clob_token_ids, m.active, m.closed, m.end_date, m.created_at, m.updated_at
		FROM markets m
		LEFT JOIN resolutions r ON r.condition_id = m.condition_id
		WHERE m.closed = true AND r.condition_id IS NULL
		ORDER BY m.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("get unresolved markets: %w", err)
	}
	defer rows.Close()

	var out []types.Market
	for rows.Next() {
		var m types.Market
		if err := rows.Scan(&m.ConditionID, &m.Question, &m.Slug, &m.MarketType, &m.Outcomes, &m.TokenIDs, &m.Active, &m.Closed, &m.EndDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan unresolved market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
