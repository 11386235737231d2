package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-collector/internal/config"
	"polymarket-collector/internal/store"
	"polymarket-collector/internal/upstream"
	"polymarket-collector/pkg/types"
)

// tradeQueueCapacity bounds the producer/consumer queue shared by every
// WebSocket subscriber and the single drainer task.
const tradeQueueCapacity = 10_000

// TradeListenerHealth is an observable snapshot of the trade listener's
// internal counters, updated in place by the subscriber and drain loops.
type TradeListenerHealth struct {
	TradesReceived    int64
	TradesInserted    int64
	BatchesInserted   int64
	ConnectionsActive int
	Reconnections     int64
	QueueDepth        int
	LastTradeTs       time.Time
	LastInsertTs      time.Time
	LastReconnectTs   time.Time
	StartedAt         time.Time
}

// TradeListener subscribes to the CLOB market channel for every active
// market's token ids across one or more chunked WebSocket connections, and
// drains received trades into the Store in batches.
type TradeListener struct {
	store  *store.Store
	cfg    config.CollectorConfig
	wsHost string
	logger *slog.Logger

	queue chan types.Trade

	mu     sync.Mutex
	health TradeListenerHealth
}

// NewTradeListener builds a TradeListener.
func NewTradeListener(st *store.Store, cfg config.CollectorConfig, wsHost string, logger *slog.Logger) *TradeListener {
	return &TradeListener{
		store:  st,
		cfg:    cfg,
		wsHost: wsHost,
		logger: logger.With("collector", "trades"),
		queue:  make(chan types.Trade, tradeQueueCapacity),
	}
}

// Run fetches unique active token ids, opens one WebSocket subscriber per
// chunk of ws_max_instruments_per_conn ids, and runs a shared drain loop
// until ctx is cancelled. On cancellation, residual queued trades are
// flushed in one final insert before returning.
func (l *TradeListener) Run(ctx context.Context) error {
	l.mu.Lock()
	l.health.StartedAt = time.Now().UTC()
	l.mu.Unlock()

	tokenIDs, err := l.activeTokenIDs(ctx)
	if err != nil {
		return err
	}
	if len(tokenIDs) == 0 {
		l.logger.Warn("no active tokens found, trade listener not starting")
		return nil
	}

	chunkSize := l.cfg.WSMaxInstrumentsPerConn
	if chunkSize <= 0 {
		chunkSize = 500
	}
	pingInterval := time.Duration(l.cfg.WSPingIntervalSec) * time.Second
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}

	var wg sync.WaitGroup
	for start := 0; start < len(tokenIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		chunk := tokenIDs[start:end]

		feed := upstream.NewTradeFeed(l.wsHost, chunk, pingInterval, l.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.runSubscriber(ctx, feed)
		}()
	}

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		l.drainLoop(ctx)
	}()

	wg.Wait()
	<-drainDone

	l.flushRemaining(context.Background())
	l.logger.Info("trade listener stopped", "trades_received", l.health.TradesReceived, "trades_inserted", l.health.TradesInserted)
	return nil
}

func (l *TradeListener) activeTokenIDs(ctx context.Context) ([]string, error) {
	markets, err := l.store.GetActiveMarkets(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, m := range markets {
		for _, id := range m.TokenIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (l *TradeListener) runSubscriber(ctx context.Context, feed *upstream.TradeFeed) {
	l.mu.Lock()
	l.health.ConnectionsActive++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.health.ConnectionsActive--
		l.mu.Unlock()
	}()

	go func() {
		for evt := range feed.Events() {
			l.enqueue(evt)
		}
	}()

	if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
		l.logger.Warn("trade subscriber exited", "error", err)
	}
}

func (l *TradeListener) enqueue(evt upstream.TradeEvent) {
	trade, ok := parseTradeEvent(evt)
	if !ok {
		return
	}
	select {
	case l.queue <- trade:
		l.mu.Lock()
		l.health.TradesReceived++
		l.health.LastTradeTs = time.Now().UTC()
		l.mu.Unlock()
	default:
		l.logger.Warn("trade queue full, dropping event", "token_id", trade.TokenID)
	}
}

func parseTradeEvent(evt upstream.TradeEvent) (types.Trade, bool) {
	if evt.EventType != "last_trade_price" {
		return types.Trade{}, false
	}
	ms, err := parseFloat(evt.Timestamp)
	if err != nil {
		return types.Trade{}, false
	}
	price, err := parseFloat(evt.Price)
	if err != nil {
		return types.Trade{}, false
	}
	size, err := parseFloat(evt.Size)
	if err != nil {
		return types.Trade{}, false
	}
	return types.Trade{
		Timestamp: time.UnixMilli(int64(ms)).UTC(),
		TokenID:   evt.AssetID,
		Side:      types.Side(evt.Side),
		Price:     price,
		Size:      size,
	}, true
}

func (l *TradeListener) drainLoop(ctx context.Context) {
	timeout := time.Duration(l.cfg.TradeBatchDrainTimeoutSec * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	batchSize := l.cfg.TradeBufferSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var batch []types.Trade
		select {
		case <-ctx.Done():
			return
		case trade := <-l.queue:
			batch = append(batch, trade)
		case <-time.After(timeout):
			continue
		}

		for len(batch) < batchSize {
			select {
			case trade := <-l.queue:
				batch = append(batch, trade)
			default:
				goto drain
			}
		}
	drain:
		l.insertBatch(ctx, batch)
	}
}

func (l *TradeListener) flushRemaining(ctx context.Context) {
	var remaining []types.Trade
	for {
		select {
		case trade := <-l.queue:
			remaining = append(remaining, trade)
		default:
			if len(remaining) > 0 {
				l.insertBatch(ctx, remaining)
				l.logger.Info("flushed remaining trades on shutdown", "count", len(remaining))
			}
			return
		}
	}
}

func (l *TradeListener) insertBatch(ctx context.Context, batch []types.Trade) {
	if len(batch) == 0 {
		return
	}
	n, err := l.store.InsertTrades(ctx, batch)
	if err != nil {
		l.logger.Error("insert trade batch failed", "error", err, "size", len(batch))
		return
	}
	l.mu.Lock()
	l.health.TradesInserted += int64(n)
	l.health.BatchesInserted++
	l.health.LastInsertTs = time.Now().UTC()
	l.mu.Unlock()
}

// GetHealth returns a snapshot of the listener's current health, with the
// queue depth populated.
func (l *TradeListener) GetHealth() TradeListenerHealth {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := l.health
	snapshot.QueueDepth = len(l.queue)
	return snapshot
}
