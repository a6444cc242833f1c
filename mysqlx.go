// Package mysqlx is an asynchronous-style MySQL/MariaDB client built
// directly on the binary wire protocol: pooled connections, a
// per-connection prepared-statement cache, and streaming result
// decoding, exposed through a database/sql-shaped Queryer surface.
package mysqlx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbbouncer/mysqlx/internal/connio"
	"github.com/dbbouncer/mysqlx/metrics"
	"github.com/dbbouncer/mysqlx/pool"
)

// Options configures a DB: the target address, credentials, and pool
// sizing. The zero value is not usable — Address is required.
type Options struct {
	Network  string // "tcp" (default) or "unix"
	Address  string
	Username string
	Password string
	Database string

	MaxConnections int           // default 10
	MinConnections int           // default 0 (no warm-up)
	IdleTimeout    time.Duration // default 0 (idle connections are not reaped)
	MaxLifetime    time.Duration // default unlimited
	AcquireTimeout time.Duration // default 30s
	CleanTimeout   time.Duration // default 200ms
	ReconnectTime  time.Duration // default 2s

	// StmtCacheSize bounds the per-connection prepared-statement cache.
	// Values below stmtcache.MinCapacity (2) are rounded up. Default 64.
	StmtCacheSize int

	// Metrics, if set, receives pool occupancy, acquire/query latency, and
	// transaction outcome instrumentation. Nil disables it.
	Metrics *metrics.Collector
}

func (o Options) poolConfig() pool.Config {
	network := o.Network
	if network == "" {
		network = "tcp"
	}
	cacheSize := o.StmtCacheSize
	if cacheSize == 0 {
		cacheSize = 64
	}
	return pool.Config{
		Network:        network,
		Address:        o.Address,
		Username:       o.Username,
		Password:       o.Password,
		Database:       o.Database,
		StmtCacheSize:  cacheSize,
		MinConnections: o.MinConnections,
		MaxConnections: o.MaxConnections,
		IdleTimeout:    o.IdleTimeout,
		MaxLifetime:    o.MaxLifetime,
		AcquireTimeout: o.AcquireTimeout,
		ReconnectTime:  o.reconnectTime(),
	}
}

// cleanTimeout returns the bound for post-use result-set draining,
// defaulting to 200ms per spec.md section 6.
func (o Options) cleanTimeout() time.Duration {
	if o.CleanTimeout > 0 {
		return o.CleanTimeout
	}
	return 200 * time.Millisecond
}

// reconnectTime returns the delay the pool waits after a failed dial
// before releasing the connection's unallocated slot, defaulting to 2s
// per spec.md section 6.
func (o Options) reconnectTime() time.Duration {
	if o.ReconnectTime > 0 {
		return o.ReconnectTime
	}
	return 2 * time.Second
}

// DB is a pooled handle to one MySQL/MariaDB server. It is safe for
// concurrent use: every Execute/Fetch call acquires its own connection
// from the pool and releases it when done.
type DB struct {
	pool *pool.Pool
	opts Options
}

// Open constructs a DB and starts its background pool maintenance
// (warm-up, idle reaping). It does not itself dial a connection —
// Acquire happens lazily on first use, per spec.md section 6.
func Open(opts Options) (*DB, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("mysqlx: Options.Address is required")
	}
	return &DB{pool: pool.New(opts.poolConfig()), opts: opts}, nil
}

// metricsCollector returns the configured Collector, or nil if none was set.
func (db *DB) metricsCollector() *metrics.Collector { return db.opts.Metrics }

// Close shuts down the pool, closing every idle connection immediately
// and waiting briefly for in-flight ones before force-closing them.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Stats returns a snapshot of pool occupancy.
func (db *DB) Stats() pool.Stats { return db.pool.Stats() }

// Conn acquires one physical connection for the caller's exclusive use
// until Release is called. Most callers should prefer Execute/Fetch on
// DB directly, which acquire-and-release automatically; Conn is for
// multi-statement sequences (e.g. session variables) that must share one
// backend connection without necessarily opening a transaction.
func (db *DB) Conn(ctx context.Context) (*Conn, error) {
	start := time.Now()
	raw, err := db.pool.Acquire(ctx)
	if m := db.metricsCollector(); m != nil {
		m.AcquireDuration(time.Since(start))
		m.UpdatePoolStats(db.pool.Stats())
	}
	if err != nil {
		return nil, err
	}
	return &Conn{raw: raw, db: db}, nil
}

// Execute runs query with args bound positionally and returns the
// affected-rows/last-insert-id outcome. It is an error to call Execute
// for a query that produces a result set — use Fetch instead.
func (db *DB) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	c, err := db.Conn(ctx)
	if err != nil {
		return Result{}, err
	}
	defer c.Release()
	start := time.Now()
	res, err := c.Execute(ctx, query, args...)
	if m := db.metricsCollector(); m != nil {
		m.QueryDuration(time.Since(start))
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			m.ServerError()
		}
	}
	return res, err
}

// Fetch runs query and returns a streaming Rows over its result set. The
// backing connection is held until the Rows is closed (exhausted via
// Next returning false, or explicitly via Rows.Close).
func (db *DB) Fetch(ctx context.Context, query string, args ...any) (*Rows, error) {
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := c.Fetch(ctx, query, args...)
	if m := db.metricsCollector(); m != nil {
		m.QueryDuration(time.Since(start))
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			m.ServerError()
		}
	}
	if err != nil {
		c.Release()
		return nil, err
	}
	rows.onClose = c.Release
	return rows, nil
}

// Begin acquires a connection and issues START TRANSACTION on it. The
// returned Tx owns that connection until Commit or Rollback.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.raw.Begin(); err != nil {
		c.Release()
		return nil, err
	}
	return &Tx{conn: c}, nil
}

// Conn is one physical connection checked out from a DB's pool. Callers
// must call Release exactly once.
type Conn struct {
	raw *connio.Conn
	db  *DB
}

// Release returns the connection to its pool.
func (c *Conn) Release() { c.db.pool.Release(c.raw) }

// Ping verifies the connection is alive.
func (c *Conn) Ping() error { return c.raw.Ping() }

// Execute implements Queryer.
func (c *Conn) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	return execute(ctx, c.raw, query, args, c.db.opts.cleanTimeout())
}

// Fetch implements Queryer.
func (c *Conn) Fetch(ctx context.Context, query string, args ...any) (*Rows, error) {
	return fetch(ctx, c.raw, query, args, c.db.opts.cleanTimeout())
}

// Queryer is implemented by both *Conn and *Tx, letting FetchAll/FetchOne
// /FetchOptional and hand-written query helpers work against either a
// bare connection or one inside a transaction.
type Queryer interface {
	Execute(ctx context.Context, query string, args ...any) (Result, error)
	Fetch(ctx context.Context, query string, args ...any) (*Rows, error)
}

// Result is the outcome of an Execute call that produced no result set.
type Result struct {
	AffectedRows uint64
	LastInsertID uint64
}

func execute(ctx context.Context, raw *connio.Conn, query string, args []any, cleanTimeout time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res, rows, err := raw.Execute(query, args)
	if err != nil {
		return Result{}, translateError(err)
	}
	if rows != nil {
		_ = raw.AbandonStreaming(rows, cleanTimeout)
		return Result{}, fmt.Errorf("mysqlx: Execute called on a query that returned a result set; use Fetch")
	}
	return Result{AffectedRows: res.AffectedRows, LastInsertID: res.LastInsertID}, nil
}

func fetch(ctx context.Context, raw *connio.Conn, query string, args []any, cleanTimeout time.Duration) (*Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, rows, err := raw.Execute(query, args)
	if err != nil {
		return nil, translateError(err)
	}
	if rows == nil {
		// A statement with no result set (e.g. an UPDATE with no
		// placeholders left unbound) still satisfies Fetch by yielding a
		// zero-row Rows rather than erroring.
		return &Rows{conn: raw, exhausted: true, execResult: res}, nil
	}
	return &Rows{conn: raw, inner: rows, cleanTimeout: cleanTimeout}, nil
}
