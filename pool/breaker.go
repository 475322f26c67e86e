package pool

import (
	"time"

	"github.com/sony/gobreaker"
)

// breakerFor lazily creates the per-key circuit breaker that guards new
// connection attempts (spec §4.8 Connection Pool; DOMAIN STACK: "a
// per-pool-key circuit breaker trips after repeated ConnectErrors so a
// down relay fails fast"). Grounded on busybox42-elemta's
// internal/smtp/worker_pool.go NewWorkerPool circuit-breaker setup.
func (p *Pool) breakerFor(key Key) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[key]; ok {
		return cb
	}
	logger := p.logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key.String(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && counts.TotalFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("pool circuit breaker state change", "key", name, "from", from.String(), "to", to.String())
			}
		},
	})
	p.breakers[key] = cb
	return cb
}
