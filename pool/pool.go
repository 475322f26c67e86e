// Package pool implements the keyed connection pool from spec §4.8: a
// bounded LIFO of idle Connections per Key, built and retired according
// to a reuse Policy, with a per-key circuit breaker guarding new dials
// (breaker.go) and errgroup-coordinated warmup/reaping.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/submitkit/mailsubmit/smtpengine"
)

// ReuseKind selects how aggressively a pool reuses connections
// (spec §4.8 "mode: {NoReuse, ReuseLimited(n), ReuseUnlimited}").
type ReuseKind int

const (
	NoReuse ReuseKind = iota
	ReuseLimited
	ReuseUnlimited
)

// Policy is a pool's configuration (spec §4.8 "recognized options").
type Policy struct {
	MaxPerKey  int           // caps idle+active connections for one Key. 0 means unbounded.
	IdleTTL    time.Duration // checkout requires now-lastUsed <= IdleTTL.
	MaxAge     time.Duration // checkout requires now-createdAt <= MaxAge.
	Mode       ReuseKind
	ReuseLimit int // uses permitted per connection when Mode == ReuseLimited.
	ProbeNoop  bool
}

// DefaultPolicy mirrors the teacher's option-struct defaults texture:
// generous timeouts, unlimited reuse, no idle-connection health probe
// beyond the deadlines already enforced by smtpengine.
func DefaultPolicy() Policy {
	return Policy{
		MaxPerKey: 10,
		IdleTTL:   90 * time.Second,
		MaxAge:    10 * time.Minute,
		Mode:      ReuseUnlimited,
	}
}

// Dialer builds a fresh Connection for a Key. Pool calls this only when
// no reusable idle connection exists and the per-key breaker is closed.
type Dialer func(ctx context.Context, key Key) (*smtpengine.Connection, error)

type idleConn struct {
	conn *smtpengine.Connection
	uses int
}

type keyState struct {
	idle   []*idleConn // LIFO: push/pop at the tail.
	active int
}

// Pool is a keyed connection pool (spec §4.8).
type Pool struct {
	mu        sync.Mutex
	policy    Policy
	dial      Dialer
	states    map[Key]*keyState
	breakers  map[Key]*gobreaker.CircuitBreaker
	logger    *slog.Logger
	dialCount int // total successful dials, exposed via Stats for tests.
}

// New creates a Pool that builds connections with dial and enforces
// policy.
func New(dial Dialer, policy Policy, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		policy:   policy,
		dial:     dial,
		states:   make(map[Key]*keyState),
		breakers: make(map[Key]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Lease is a checked-out connection. Callers must call Release or Drop
// exactly once.
type Lease struct {
	pool *Pool
	key  Key
	uses int // prior successful uses of this connection, before this checkout.
	Conn *smtpengine.Connection
}

// ErrPoolExhausted is returned by Checkout when a key is already at
// MaxPerKey and no idle connection is reusable.
var ErrPoolExhausted = errors.New("pool: max_per_key reached, no idle connection available")

// Checkout returns a Lease over a reusable idle connection, or dials a
// new one, per spec §4.8's checkout algorithm.
func (p *Pool) Checkout(ctx context.Context, key Key) (*Lease, error) {
	p.reap(key)

	if p.policy.Mode != NoReuse {
		for {
			ic, ok := p.popIdle(key)
			if !ok {
				break
			}
			if p.healthy(ic.conn) {
				ic.conn.Touch()
				p.mu.Lock()
				p.stateFor(key).active++
				p.mu.Unlock()
				p.logger.Debug("pool: checkout reused idle connection", "key", key.String(), "uses", ic.uses)
				return &Lease{pool: p, key: key, uses: ic.uses, Conn: ic.conn}, nil
			}
			p.logger.Debug("pool: dropping stale idle connection on checkout", "key", key.String())
			ic.conn.Drop()
		}
	}

	p.mu.Lock()
	st := p.stateFor(key)
	if p.policy.MaxPerKey > 0 && st.active+len(st.idle) >= p.policy.MaxPerKey {
		p.mu.Unlock()
		p.logger.Warn("pool: exhausted", "key", key.String(), "max_per_key", p.policy.MaxPerKey)
		return nil, ErrPoolExhausted
	}
	st.active++
	p.mu.Unlock()

	conn, err := p.dialThroughBreaker(ctx, key)
	if err != nil {
		p.mu.Lock()
		p.stateFor(key).active--
		p.mu.Unlock()
		p.logger.Warn("pool: dial failed", "key", key.String(), "err", err)
		return nil, err
	}

	p.mu.Lock()
	p.dialCount++
	p.mu.Unlock()

	p.logger.Debug("pool: checkout dialed new connection", "key", key.String())
	return &Lease{pool: p, key: key, Conn: conn}, nil
}

func (p *Pool) popIdle(key Key) (*idleConn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stateFor(key)
	if len(st.idle) == 0 {
		return nil, false
	}
	ic := st.idle[len(st.idle)-1]
	st.idle = st.idle[:len(st.idle)-1]
	return ic, true
}

func (p *Pool) dialThroughBreaker(ctx context.Context, key Key) (*smtpengine.Connection, error) {
	cb := p.breakerFor(key)
	result, err := cb.Execute(func() (interface{}, error) {
		return p.dial(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.(*smtpengine.Connection), nil
}

// healthy applies the idle-TTL/max-age window and, if configured, a NOOP
// probe (spec §4.8 "optionally validating liveness with a NOOP").
func (p *Pool) healthy(conn *smtpengine.Connection) bool {
	now := time.Now()
	if p.policy.IdleTTL > 0 && now.Sub(conn.LastUsedAt()) > p.policy.IdleTTL {
		return false
	}
	if p.policy.MaxAge > 0 && now.Sub(conn.CreatedAt()) > p.policy.MaxAge {
		return false
	}
	if p.policy.ProbeNoop {
		if err := smtpengine.Noop(conn); err != nil {
			return false
		}
	}
	return true
}

// Release returns a Lease's connection to the pool, or discards it, per
// spec §4.8's return algorithm: a connection with an open transaction is
// RSET first, dropped if RSET fails; ReuseLimited connections are
// dropped once their use count is exhausted; NoReuse connections are
// never kept idle.
func (l *Lease) Release(healthy bool) {
	p := l.pool
	conn := l.Conn

	p.mu.Lock()
	p.stateFor(l.key).active--
	p.mu.Unlock()

	if !healthy {
		p.logger.Debug("pool: release dropping unhealthy connection", "key", l.key.String())
		conn.Drop()
		return
	}

	if conn.NeedsReset() {
		if err := smtpengine.Reset(conn); err != nil {
			p.logger.Warn("pool: RSET failed on release, dropping connection", "key", l.key.String(), "err", err)
			conn.Drop()
			return
		}
	}

	if p.policy.Mode == NoReuse {
		conn.Close()
		return
	}

	uses := l.uses + 1
	if p.policy.Mode == ReuseLimited && p.policy.ReuseLimit > 0 && uses >= p.policy.ReuseLimit {
		p.logger.Debug("pool: reuse limit reached, closing connection", "key", l.key.String(), "uses", uses)
		conn.Close()
		return
	}

	p.mu.Lock()
	st := p.stateFor(l.key)
	if p.policy.MaxPerKey > 0 && len(st.idle) >= p.policy.MaxPerKey {
		p.mu.Unlock()
		conn.Close()
		return
	}
	conn.Touch()
	st.idle = append(st.idle, &idleConn{conn: conn, uses: uses})
	p.mu.Unlock()
	p.logger.Debug("pool: connection returned to idle pool", "key", l.key.String(), "uses", uses)
}

// Drop discards a Lease's connection unconditionally, for the
// cancellation-safety path (spec §8 property 9): a send cancelled
// between MAIL and DATA must not return the connection to the pool.
func (l *Lease) Drop() {
	p := l.pool
	p.mu.Lock()
	p.stateFor(l.key).active--
	p.mu.Unlock()
	p.logger.Debug("pool: lease dropped", "key", l.key.String())
	l.Conn.Drop()
}

// stateFor returns (creating if absent) the keyState for key. Caller
// must hold p.mu.
func (p *Pool) stateFor(key Key) *keyState {
	st, ok := p.states[key]
	if !ok {
		st = &keyState{}
		p.states[key] = st
	}
	return st
}

// reap evicts idle connections for key that have exceeded IdleTTL or
// MaxAge (spec §4.8 "an idle reaper runs lazily, on each checkout").
func (p *Pool) reap(key Key) {
	p.mu.Lock()
	st, ok := p.states[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	var fresh []*idleConn
	var stale []*idleConn
	for _, ic := range st.idle {
		if p.healthy(ic.conn) {
			fresh = append(fresh, ic)
		} else {
			stale = append(stale, ic)
		}
	}
	st.idle = fresh
	p.mu.Unlock()

	if len(stale) > 0 {
		p.logger.Debug("pool: reaper evicting idle connections", "key", key.String(), "count", len(stale))
	}
	for _, ic := range stale {
		ic.conn.Drop()
	}
}

// ReapAll runs the idle reaper across every known key concurrently,
// coordinated with an errgroup (DOMAIN STACK: "pool idle reaper ...
// coordinated with an errgroup.Group").
func (p *Pool) ReapAll(ctx context.Context) error {
	p.mu.Lock()
	keys := make([]Key, 0, len(p.states))
	for k := range p.states {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			p.reap(k)
			return nil
		})
	}
	return g.Wait()
}

// Warm dials n connections for key concurrently and returns them to the
// idle pool, for callers that want to pre-establish connections before
// traffic arrives.
func (p *Pool) Warm(ctx context.Context, key Key, n int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			lease, err := p.Checkout(gctx, key)
			if err != nil {
				return err
			}
			lease.Release(true)
			return nil
		})
	}
	return g.Wait()
}

// Stats reports pool-wide counters, primarily for tests asserting the
// "exactly one TCP connect" property (spec §8 property 8).
type Stats struct {
	Dials int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Dials: p.dialCount}
}

// Close drops every idle connection across every key.
func (p *Pool) Close() {
	p.mu.Lock()
	states := p.states
	p.states = make(map[Key]*keyState)
	p.mu.Unlock()

	for _, st := range states {
		for _, ic := range st.idle {
			ic.conn.Drop()
		}
	}
}
