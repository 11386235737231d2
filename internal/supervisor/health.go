package supervisor

import "polymarket-collector/internal/collector"

// Health is the supervisor's get_health()-equivalent snapshot: every
// polling collector's lifetime counters plus the trade listener's own
// health, with a live queue depth.
type Health struct {
	Collectors map[string]CollectorStats
	Trades     collector.TradeListenerHealth
	Running    bool
}

// GetHealth returns a point-in-time snapshot safe for concurrent callers.
func (s *Supervisor) GetHealth() Health {
	s.mu.Lock()
	running := s.running
	collectors := make(map[string]CollectorStats, len(s.stats))
	for name, st := range s.stats {
		collectors[name] = *st
	}
	listener := s.listener
	s.mu.Unlock()

	h := Health{Collectors: collectors, Running: running}
	if listener != nil {
		h.Trades = listener.GetHealth()
	}
	return h
}
