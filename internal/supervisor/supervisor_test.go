package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"polymarket-collector/internal/collector"
	"polymarket-collector/internal/config"
)

type countingCollector struct {
	calls   int64
	retCount int
	retErr  error
	panicOn int64 // panics on the nth call when > 0
}

func (c *countingCollector) CollectOnce(ctx context.Context) (int, error) {
	n := atomic.AddInt64(&c.calls, 1)
	if c.panicOn > 0 && n == c.panicOn {
		panic("boom")
	}
	return c.retCount, c.retErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func testSupervisor(pollers map[string]Collector, intervals map[string]time.Duration) *Supervisor {
	cfg := config.SupervisorConfig{
		RestartBaseDelaySec:  1,
		RestartMaxDelaySec:   4,
		MaxRestarts:          5,
		MonitorIntervalSec:   1,
		HealthLogIntervalSec: 1,
	}
	newListener := func() *collector.TradeListener {
		return collector.NewTradeListener(nil, config.CollectorConfig{TradeBufferSize: 10}, "wss://example.invalid", testLogger())
	}
	return New(cfg, pollers, intervals, newListener, nil, testLogger())
}

func TestRunOneCycleUpdatesStatsOnSuccess(t *testing.T) {
	t.Parallel()
	coll := &countingCollector{retCount: 7}
	s := testSupervisor(map[string]Collector{"metadata": coll}, nil)
	s.stats["metadata"] = &CollectorStats{}

	s.runOneCycle(context.Background(), "metadata", coll)

	st := s.stats["metadata"]
	if st.TotalItems != 7 {
		t.Errorf("TotalItems = %d, want 7", st.TotalItems)
	}
	if st.LastCollectTs.IsZero() {
		t.Error("expected LastCollectTs to be set")
	}
	if st.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", st.ErrorCount)
	}
}

func TestRunOneCyclePanicIsContained(t *testing.T) {
	t.Parallel()
	coll := &countingCollector{panicOn: 1}
	s := testSupervisor(map[string]Collector{"metadata": coll}, nil)
	s.stats["metadata"] = &CollectorStats{}

	s.runOneCycle(context.Background(), "metadata", coll)

	st := s.stats["metadata"]
	if st.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", st.ErrorCount)
	}
	if st.LastError == "" {
		t.Error("expected LastError to be recorded")
	}
}

func TestGetHealthReflectsCollectorStats(t *testing.T) {
	t.Parallel()
	s := testSupervisor(map[string]Collector{}, nil)
	s.stats["prices"] = &CollectorStats{TotalItems: 42}

	h := s.GetHealth()
	if h.Collectors["prices"].TotalItems != 42 {
		t.Errorf("GetHealth() prices.TotalItems = %d, want 42", h.Collectors["prices"].TotalItems)
	}
}

func TestRunPollingLoopStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	coll := &countingCollector{retCount: 1}
	s := testSupervisor(map[string]Collector{"metadata": coll}, map[string]time.Duration{"metadata": time.Millisecond})
	s.stats["metadata"] = &CollectorStats{}

	ctx, cancel := context.WithCancel(context.Background())
	crashed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runPollingLoop(ctx, "metadata", coll, crashed)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("polling loop did not stop after context cancel")
	}
	select {
	case <-crashed:
		t.Error("expected crashed channel to stay open on clean cancellation")
	default:
	}
	if atomic.LoadInt64(&coll.calls) == 0 {
		t.Error("expected at least one collection cycle to run")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	s := testSupervisor(map[string]Collector{}, nil)
	s.running = true

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
