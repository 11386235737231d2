package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"polymarket-collector/pkg/types"
)

// InsertTrades bulk-appends via COPY. If the batch contains a trade id that
// already exists (idx_trades_trade_id is a unique partial index), the whole
// COPY aborts; on that specific failure this falls back to inserting the
// batch row-by-row with ON CONFLICT DO NOTHING so the rest of the batch is
// not lost to one duplicate.
//
// The return value is the size of the input batch, not the count of rows
// actually inserted — callers use it to confirm the batch was processed, not
// to count new rows. This mirrors the original's insert_trades return
// contract; preserved deliberately rather than corrected.
func (s *Store) InsertTrades(ctx context.Context, trades []types.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(trades))
	for i, t := range trades {
		rows[i] = []any{t.Timestamp, t.TokenID, string(t.Side), t.Price, t.Size, nullableTradeID(t.TradeID)}
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"trades"},
		[]string{"ts", "token_id", "side", "price", "size", "trade_id"},
		pgx.CopyFromRows(rows),
	)
	if err == nil {
		return len(trades), nil
	}
	if !isUniqueViolation(err) {
		return 0, fmt.Errorf("copy trades: %w", err)
	}

	for _, t := range trades {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO trades (ts, token_id, side, price, size, trade_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (trade_id) WHERE trade_id IS NOT NULL DO NOTHING
		`, t.Timestamp, t.TokenID, string(t.Side), t.Price, t.Size, nullableTradeID(t.TradeID))
		if err != nil {
			return 0, fmt.Errorf("insert trade fallback: %w", err)
		}
	}
	return len(trades), nil
}

func nullableTradeID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// GetRecentTrades returns up to limit trades for a token, newest first.
func (s *Store) GetRecentTrades(ctx context.Context, tokenID string, limit int) ([]types.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, token_id, side, price, size, coalesce(trade_id, '')
		FROM trades
		WHERE token_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var side string
		if err := rows.Scan(&t.Timestamp, &t.TokenID, &side, &t.Price, &t.Size, &t.TradeID); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = types.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTradeCount returns the total number of trades rows, optionally filtered
// by token id.
func (s *Store) GetTradeCount(ctx context.Context, tokenID string) (int64, error) {
	var count int64
	var err error
	if tokenID == "" {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM trades`).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM trades WHERE token_id = $1`, tokenID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("get trade count: %w", err)
	}
	return count, nil
}
