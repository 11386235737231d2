// Package supervisor orchestrates the collector daemon's child tasks:
// the four polling collectors, the trade listener, and its own monitor
// and health-log housekeeping loops. It is the single entry point for
// 24/7 data collection, with crash recovery and graceful shutdown.
package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"polymarket-collector/internal/collector"
	"polymarket-collector/internal/config"
)

// Collector is the polling-collector contract: a single collection cycle
// that never raises, returning the count of items processed.
type Collector interface {
	CollectOnce(ctx context.Context) (int, error)
}

// CollectorStats tracks one polling collector's lifetime counters.
type CollectorStats struct {
	TotalItems    int64
	LastCollectTs time.Time
	ErrorCount    int64
	LastError     string
}

type taskHandle struct {
	cancel   context.CancelFunc
	crashed  chan struct{}
	restarts int
}

// Supervisor owns all child tasks keyed by name: metadata, prices,
// orderbooks, resolutions, trades, plus its own _monitor and _health
// housekeeping loops.
type Supervisor struct {
	cfg    config.SupervisorConfig
	logger *slog.Logger

	pollers        map[string]Collector
	intervals      map[string]time.Duration
	newListener    func() *collector.TradeListener
	resolutionHTTP io.Closer

	mu       sync.Mutex
	running  bool
	stats    map[string]*CollectorStats
	tasks    map[string]*taskHandle
	listener *collector.TradeListener

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New builds a Supervisor. newListener is a factory so the trade listener
// can be fully re-instantiated on crash, since its internal queue and
// per-connection state may be corrupted after one. resolutionHTTP is
// closed on Stop, matching the upstream client's lifecycle.
func New(
	cfg config.SupervisorConfig,
	pollers map[string]Collector,
	intervals map[string]time.Duration,
	newListener func() *collector.TradeListener,
	resolutionHTTP io.Closer,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:            cfg,
		logger:         logger.With("component", "supervisor"),
		pollers:        pollers,
		intervals:      intervals,
		newListener:    newListener,
		resolutionHTTP: resolutionHTTP,
		stats:          make(map[string]*CollectorStats),
		tasks:          make(map[string]*taskHandle),
		shutdown:       make(chan struct{}),
	}
}

// Run starts all child tasks and blocks until ctx is cancelled or Stop is
// called, then performs a graceful shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	for name := range s.pollers {
		s.stats[name] = &CollectorStats{}
	}
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for name, coll := range s.pollers {
		s.startPoller(runCtx, name, coll)
	}
	s.startTradeListener(runCtx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.monitorLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.healthLogLoop(runCtx)
	}()

	select {
	case <-ctx.Done():
	case <-s.shutdown:
	}

	return s.Stop()
}

// Stop gracefully stops all child tasks. Idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	tasks := make(map[string]*taskHandle, len(s.tasks))
	for k, v := range s.tasks {
		tasks[k] = v
	}
	s.mu.Unlock()

	s.shutdownOnce.Do(func() { close(s.shutdown) })
	s.logger.Info("supervisor shutting down")

	for name, task := range tasks {
		if name == "trades" {
			continue
		}
		task.cancel()
	}
	if task, ok := tasks["trades"]; ok {
		task.cancel()
	}
	if s.resolutionHTTP != nil {
		if err := s.resolutionHTTP.Close(); err != nil {
			s.logger.Warn("close resolution http client failed", "error", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("supervisor stopped")
	return nil
}

func (s *Supervisor) startPoller(ctx context.Context, name string, coll Collector) {
	taskCtx, cancel := context.WithCancel(ctx)
	crashed := make(chan struct{})
	s.mu.Lock()
	s.tasks[name] = &taskHandle{cancel: cancel, crashed: crashed}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPollingLoop(taskCtx, name, coll, crashed)
	}()
}

// runPollingLoop calls collector.CollectOnce at the configured interval
// until the task's context is cancelled. A panic during one cycle is
// caught and counted as an error without killing the loop, matching the
// original's per-iteration exception handling; the crashed channel is
// closed only if the loop itself exits without the context being done,
// which the monitor treats as a genuine task crash.
func (s *Supervisor) runPollingLoop(ctx context.Context, name string, coll Collector, crashed chan struct{}) {
	defer func() {
		if ctx.Err() == nil {
			close(crashed)
		}
	}()

	interval := s.intervals[name]
	if interval <= 0 {
		interval = 30 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.runOneCycle(ctx, name, coll)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Supervisor) runOneCycle(ctx context.Context, name string, coll Collector) {
	defer func() {
		if r := recover(); r != nil {
			s.recordError(name, "panic during collection")
			s.logger.Error("collector panicked", "collector", name, "panic", r)
		}
	}()

	count, err := coll.CollectOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.recordError(name, err.Error())
		s.logger.Error("collection error", "collector", name, "error", err)
		return
	}

	s.mu.Lock()
	st := s.stats[name]
	if st == nil {
		st = &CollectorStats{}
		s.stats[name] = st
	}
	st.TotalItems += int64(count)
	st.LastCollectTs = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Debug("collection cycle complete", "collector", name, "count", count)
}

func (s *Supervisor) recordError(name, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	if st == nil {
		st = &CollectorStats{}
		s.stats[name] = st
	}
	st.ErrorCount++
	st.LastError = msg
}

func (s *Supervisor) startTradeListener(ctx context.Context) {
	taskCtx, cancel := context.WithCancel(ctx)
	crashed := make(chan struct{})

	listener := s.newListener()
	s.mu.Lock()
	s.listener = listener
	s.tasks["trades"] = &taskHandle{cancel: cancel, crashed: crashed}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if ctx.Err() == nil {
				close(crashed)
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("trade listener panicked", "panic", r)
			}
		}()
		if err := listener.Run(taskCtx); err != nil && taskCtx.Err() == nil {
			s.logger.Error("trade listener exited", "error", err)
		}
	}()
}

// monitorLoop scans child tasks every monitor_interval_sec; a task whose
// crashed channel is closed is restarted with exponential backoff,
// capped at max_restarts. Polling collectors reuse the existing
// instance; the trade listener is fully re-instantiated.
func (s *Supervisor) monitorLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.MonitorIntervalSec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		s.mu.Lock()
		running := s.running
		crashedNames := make([]string, 0)
		for name, task := range s.tasks {
			select {
			case <-task.crashed:
				crashedNames = append(crashedNames, name)
			default:
			}
		}
		s.mu.Unlock()

		if !running {
			return
		}

		for _, name := range crashedNames {
			s.restartTask(ctx, name)
		}
	}
}

func (s *Supervisor) restartTask(ctx context.Context, name string) {
	s.mu.Lock()
	task := s.tasks[name]
	if task == nil {
		s.mu.Unlock()
		return
	}
	n := task.restarts
	s.mu.Unlock()

	if n >= s.cfg.MaxRestarts {
		s.logger.Error("task exceeded max restarts, leaving dead", "task", name, "restarts", n)
		return
	}

	base := time.Duration(s.cfg.RestartBaseDelaySec) * time.Second
	maxDelay := time.Duration(s.cfg.RestartMaxDelaySec) * time.Second
	delay := base << n
	if delay > maxDelay {
		delay = maxDelay
	}
	s.logger.Warn("restarting crashed task", "task", name, "attempt", n+1, "delay", delay)

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if name == "trades" {
		s.startTradeListener(ctx)
	} else if coll, ok := s.pollers[name]; ok {
		s.startPoller(ctx, name, coll)
	}

	s.mu.Lock()
	if t := s.tasks[name]; t != nil {
		t.restarts = n + 1
	}
	s.mu.Unlock()
}

func (s *Supervisor) healthLogLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.HealthLogIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		h := s.GetHealth()
		s.logger.Info("health snapshot",
			"metadata_total", h.Collectors["metadata"].TotalItems,
			"prices_total", h.Collectors["prices"].TotalItems,
			"orderbooks_total", h.Collectors["orderbooks"].TotalItems,
			"resolutions_total", h.Collectors["resolutions"].TotalItems,
			"trades_received", h.Trades.TradesReceived,
			"trades_inserted", h.Trades.TradesInserted,
			"queue_depth", h.Trades.QueueDepth,
		)
	}
}
