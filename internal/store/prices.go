package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"polymarket-collector/pkg/types"
)

// InsertPriceSnapshots bulk-appends via the binary COPY protocol — this is
// the highest-volume table (thousands of rows per cycle), so a row-at-a-time
// INSERT is not an option. Returns the number of rows copied.
func (s *Store) InsertPriceSnapshots(ctx context.Context, snapshots []types.PriceSnapshot) (int64, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(snapshots))
	for i, snap := range snapshots {
		rows[i] = []any{snap.Timestamp, snap.TokenID, snap.Price, snap.Volume24h}
	}

	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"price_snapshots"},
		[]string{"ts", "token_id", "price", "volume_24h"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return n, fmt.Errorf("copy price snapshots: %w", err)
	}
	return n, nil
}

// GetLatestPrices returns the most recent price per requested token id.
func (s *Store) GetLatestPrices(ctx context.Context, tokenIDs []string) (map[string]types.PriceSnapshot, error) {
	if len(tokenIDs) == 0 {
		return map[string]types.PriceSnapshot{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (token_id) token_id, ts, price, volume_24h
		FROM price_snapshots
		WHERE token_id = ANY($1::text[])
		ORDER BY token_id, ts DESC
	`, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("get latest prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.PriceSnapshot, len(tokenIDs))
	for rows.Next() {
		var snap types.PriceSnapshot
		if err := rows.Scan(&snap.TokenID, &snap.Timestamp, &snap.Price, &snap.Volume24h); err != nil {
			return nil, fmt.Errorf("scan latest price: %w", err)
		}
		out[snap.TokenID] = snap
	}
	return out, rows.Err()
}

// GetPriceHistory returns up to limit snapshots for a token within
// [start, end], descending by time.
func (s *Store) GetPriceHistory(ctx context.Context, tokenID string, start, end time.Time, limit int) ([]types.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_id, ts, price, volume_24h
		FROM price_snapshots
		WHERE token_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4
	`, tokenID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("get price history: %w", err)
	}
	defer rows.Close()

	var out []types.PriceSnapshot
	for rows.Next() {
		var snap types.PriceSnapshot
		if err := rows.Scan(&snap.TokenID, &snap.Timestamp, &snap.Price, &snap.Volume24h); err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// GetPriceCount returns the total number of price_snapshots rows, optionally
// filtered by token id.
func (s *Store) GetPriceCount(ctx context.Context, tokenID string) (int64, error) {
	var count int64
	var err error
	if tokenID == "" {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM price_snapshots`).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM price_snapshots WHERE token_id = $1`, tokenID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("get price count: %w", err)
	}
	return count, nil
}
