package store

import (
	"context"
	"encoding/json"
	"fmt"

	"polymarket-collector/pkg/types"
)

type levelsPayload struct {
	Levels []types.OrderbookLevel `json:"levels"`
}

// InsertOrderbookSnapshots inserts structured bid/ask payloads as JSONB.
// Volume is much lower than price_snapshots (one row per token per
// order-book cycle), so a per-row insert is acceptable — the bulk COPY
// protocol doesn't carry JSONB encode/decode the way prices.go's float
// columns do.
func (s *Store) InsertOrderbookSnapshots(ctx context.Context, snapshots []types.OrderbookSnapshot) (int, error) {
	count := 0
	for _, snap := range snapshots {
		bids, err := json.Marshal(levelsPayload{Levels: snap.Bids})
		if err != nil {
			return count, fmt.Errorf("marshal bids: %w", err)
		}
		asks, err := json.Marshal(levelsPayload{Levels: snap.Asks})
		if err != nil {
			return count, fmt.Errorf("marshal asks: %w", err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO orderbook_snapshots (ts, token_id, bids, asks, spread, midpoint)
			VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6)
		`, snap.Timestamp, snap.TokenID, bids, asks, snap.Spread, snap.Midpoint)
		if err != nil {
			return count, fmt.Errorf("insert orderbook snapshot for %s: %w", snap.TokenID, err)
		}
		count++
	}
	return count, nil
}

// GetLatestOrderbook returns the most recent snapshot for a token, or nil if
// none exists.
func (s *Store) GetLatestOrderbook(ctx context.Context, tokenID string) (*types.OrderbookSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ts, token_id, bids, asks, spread, midpoint
		FROM orderbook_snapshots
		WHERE token_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`, tokenID)
	return scanOrderbookRow(row)
}

// GetOrderbookHistory returns up to limit snapshots for a token, descending
// by time.
func (s *Store) GetOrderbookHistory(ctx context.Context, tokenID string, limit int) ([]types.OrderbookSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, token_id, bids, asks, spread, midpoint
		FROM orderbook_snapshots
		WHERE token_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("get orderbook history: %w", err)
	}
	defer rows.Close()

	var out []types.OrderbookSnapshot
	for rows.Next() {
		snap, err := scanOrderbookRowFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderbookRow(row rowScanner) (*types.OrderbookSnapshot, error) {
	var (
		snap     types.OrderbookSnapshot
		bidsRaw  []byte
		asksRaw  []byte
	)
	if err := row.Scan(&snap.Timestamp, &snap.TokenID, &bidsRaw, &asksRaw, &snap.Spread, &snap.Midpoint); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan orderbook snapshot: %w", err)
	}
	if err := decodeLevels(bidsRaw, &snap.Bids); err != nil {
		return nil, err
	}
	if err := decodeLevels(asksRaw, &snap.Asks); err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanOrderbookRowFromRows(row rowScanner) (*types.OrderbookSnapshot, error) {
	snap, err := scanOrderbookRow(row)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("scan orderbook snapshot: unexpected no-rows on iterated row")
	}
	return snap, nil
}

func decodeLevels(raw []byte, out *[]types.OrderbookLevel) error {
	if len(raw) == 0 {
		return nil
	}
	var payload levelsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode orderbook levels: %w", err)
	}
	*out = payload.Levels
	return nil
}
