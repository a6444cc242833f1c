// Package pool implements the bounded connection pool described in
// spec.md section 6: a shared set of connio.Conn connections, acquired
// and released by callers, grown lazily up to a configured maximum, and
// reaped for idleness and age in the background.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dbbouncer/mysqlx/internal/connio"
)

// ErrPoolClosed is returned by Acquire once Close has been called, and by
// an Acquire that was already waiting when Close runs.
var ErrPoolClosed = errors.New("pool: closed")

// ErrAcquireTimeout is returned by Acquire when no connection became
// available before cfg.AcquireTimeout (or the caller's context deadline)
// elapsed.
var ErrAcquireTimeout = errors.New("pool: acquire timeout")

// Config configures a Pool's target, credentials, and sizing.
type Config struct {
	Network       string
	Address       string
	Username      string
	Password      string
	Database      string
	StmtCacheSize int

	MinConnections int
	MaxConnections int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration

	// ReconnectTime is how long Acquire waits after a failed dial before
	// releasing the connection's unallocated slot back to the pool, so a
	// server that is down doesn't get hammered with immediate retries from
	// every waiting caller.
	ReconnectTime time.Duration
}

func (c Config) connioOptions() connio.Options {
	return connio.Options{
		Network:       c.Network,
		Address:       c.Address,
		Username:      c.Username,
		Password:      c.Password,
		Database:      c.Database,
		StmtCacheSize: c.StmtCacheSize,
	}
}

// Stats reports a snapshot of pool occupancy, per spec.md's invariant
// that free + in-flight + unallocated always equals max_connections.
type Stats struct {
	Free        int
	InFlight    int
	Unallocated int
	Waiting     int
	MaxConns    int
	Exhausted   int64
}

// idleConn pairs a connection with its open time and the time it most
// recently became idle, so the reaper can evict connections that have
// exceeded MaxLifetime or sat unused past IdleTimeout.
type idleConn struct {
	conn      *connio.Conn
	openedAt  time.Time
	idleSince time.Time
}

// Pool is a bounded set of connio.Conn connections to one MySQL/MariaDB
// server, all sharing one DSN and set of credentials.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond
	cfg  Config

	idle     []idleConn
	openedAt map[*connio.Conn]time.Time
	active   map[*connio.Conn]struct{}
	total    int

	waiting   int
	exhausted int64
	closed    bool
	stopCh    chan struct{}
}

// New constructs a Pool and starts its background idle reaper. If
// cfg.MinConnections > 0, it also starts a background warm-up.
func New(cfg Config) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	p := &Pool{
		cfg:      cfg,
		openedAt: make(map[*connio.Conn]time.Time),
		active:   make(map[*connio.Conn]struct{}),
		stopCh:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	go p.reapLoop()
	if cfg.MinConnections > 0 {
		go p.warmUp()
	}
	return p
}

func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.MinConnections; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinConnections {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		conn, err := connio.Dial(p.cfg.connioOptions())
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			slog.Warn("pool warm-up connection failed", "index", i+1, "of", p.cfg.MinConnections, "err", err)
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		now := timeNow()
		p.openedAt[conn] = now
		p.idle = append(p.idle, idleConn{conn: conn, openedAt: now, idleSince: now})
		p.mu.Unlock()
	}
}

// Acquire returns a ready connection, creating one if the pool is below
// its max and no idle connection is available, or waiting for one to be
// returned otherwise. ctx governs cancellation and, combined with
// cfg.AcquireTimeout, the wait deadline.
func (p *Pool) Acquire(ctx context.Context) (*connio.Conn, error) {
	deadline := timeNow().Add(p.cfg.AcquireTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		for len(p.idle) > 0 {
			entry := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if p.cfg.MaxLifetime > 0 && timeNow().Sub(entry.openedAt) > p.cfg.MaxLifetime {
				p.dropLocked(entry.conn)
				continue
			}

			// entry was already popped off p.idle, so no other acquirer can
			// see it; the mutex only needs to cover bookkeeping, not the
			// network round-trip of the liveness check itself.
			p.mu.Unlock()
			pingErr := entry.conn.Ping()
			p.mu.Lock()

			if pingErr != nil {
				p.dropLocked(entry.conn)
				continue
			}

			p.active[entry.conn] = struct{}{}
			p.mu.Unlock()
			return entry.conn, nil
		}

		if p.total < p.cfg.MaxConnections {
			p.total++
			p.mu.Unlock()

			conn, err := connio.Dial(p.cfg.connioOptions())
			if err != nil {
				p.waitReconnectTime(ctx)
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("pool: dialing %s: %w", p.cfg.Address, err)
			}

			p.mu.Lock()
			p.openedAt[conn] = timeNow()
			p.active[conn] = struct{}{}
			p.mu.Unlock()
			return conn, nil
		}

		p.waiting++
		p.exhausted++

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: after %s", ErrAcquireTimeout, p.cfg.AcquireTimeout)
		}

		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait() // releases mu, waits for signal, reacquires mu
		timer.Stop()
		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: while waiting for a connection", ErrPoolClosed)
		}
		if timeNow().After(deadline) {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: after %s", ErrAcquireTimeout, p.cfg.AcquireTimeout)
		}
		// retry from the top, mu still held
	}
}

// waitReconnectTime pauses a failed dial attempt for cfg.ReconnectTime (or
// until ctx is done, if sooner) before the caller releases the slot it
// reserved, so a down server doesn't get redialed in a tight loop by every
// acquirer racing to fill the freed slot.
func (p *Pool) waitReconnectTime(ctx context.Context) {
	if p.cfg.ReconnectTime <= 0 {
		return
	}
	timer := time.NewTimer(p.cfg.ReconnectTime)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-p.stopCh:
	}
}

// dropLocked closes conn and removes its accounting. Callers must hold
// p.mu.
func (p *Pool) dropLocked(conn *connio.Conn) {
	conn.Close()
	delete(p.openedAt, conn)
	p.total--
}

// Release returns conn to the pool. A connection that is not clean (an
// open transaction, a protocol error, or past MaxLifetime) is closed and
// its slot freed instead of being reused.
func (p *Pool) Release(conn *connio.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, conn)

	expired := p.cfg.MaxLifetime > 0 && timeNow().Sub(p.openedAt[conn]) > p.cfg.MaxLifetime
	if p.closed || expired || !conn.Clean() {
		p.dropLocked(conn)
		p.cond.Signal()
		return
	}

	now := timeNow()
	p.idle = append(p.idle, idleConn{conn: conn, openedAt: p.openedAt[conn], idleSince: now})
	// Signal wakes one waiting goroutine rather than every waiter, avoiding
	// a thundering herd where all but one immediately go back to sleep.
	p.cond.Signal()
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Free:        len(p.idle),
		InFlight:    len(p.active),
		Unallocated: p.cfg.MaxConnections - p.total,
		Waiting:     p.waiting,
		MaxConns:    p.cfg.MaxConnections,
		Exhausted:   p.exhausted,
	}
}

// Close drains idle connections immediately and waits briefly for
// in-flight connections to be released before force-closing them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()

	for _, entry := range p.idle {
		p.dropLocked(entry.conn)
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return
	}

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-timeout:
			p.mu.Lock()
			for conn := range p.active {
				conn.Close()
			}
			p.active = make(map[*connio.Conn]struct{})
			p.mu.Unlock()
			slog.Warn("pool: force-closed in-flight connections after close timeout")
			return
		}
	}
}

func (p *Pool) reapLoop() {
	interval := p.cfg.IdleTimeout
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

// reapIdle evicts idle connections that have exceeded IdleTimeout or
// MaxLifetime, keeping at least MinConnections warm.
func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.IdleTimeout <= 0 && p.cfg.MaxLifetime <= 0 {
		return
	}
	now := timeNow()
	kept := p.idle[:0]
	for _, entry := range p.idle {
		tooIdle := p.cfg.IdleTimeout > 0 && now.Sub(entry.idleSince) > p.cfg.IdleTimeout
		tooOld := p.cfg.MaxLifetime > 0 && now.Sub(entry.openedAt) > p.cfg.MaxLifetime
		if (tooIdle || tooOld) && p.total > p.cfg.MinConnections {
			p.dropLocked(entry.conn)
			continue
		}
		kept = append(kept, entry)
	}
	p.idle = kept
}

// timeNow is time.Now, indirected so tests can exercise idle/lifetime
// reaping deterministically.
var timeNow = time.Now
