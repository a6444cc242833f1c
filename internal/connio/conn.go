package connio

import (
	"fmt"
	"net"
	"time"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/stmtcache"
	"github.com/dbbouncer/mysqlx/internal/values"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// State is one state of the per-connection state machine described in
// spec.md section 5: handshake, idle, and the in-flight command states a
// connection passes through while executing.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateIdle
	StateQuerying
	StateStreaming
	StateNotClean
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateIdle:
		return "idle"
	case StateQuerying:
		return "querying"
	case StateStreaming:
		return "streaming"
	case StateNotClean:
		return "not_clean"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Conn's target and credentials.
type Options struct {
	Network        string // "tcp" or "unix"
	Address        string
	Username       string
	Password       string
	Database       string
	StmtCacheSize  int
}

// Conn drives one physical connection through its whole lifecycle:
// handshake, repeated Execute calls (each going through list expansion,
// the statement cache, and binary-protocol encode/decode), and explicit
// transaction control. A Conn is not safe for concurrent use — spec.md
// section 5 scopes this to one in-flight command per connection.
type Conn struct {
	wire  *wire.Conn
	raw   net.Conn
	opts  Options
	state State
	cache *stmtcache.Cache

	// capabilities is the capability flag set negotiated during the
	// handshake (the intersection of what this client offers and what the
	// server supports), per spec.md section 4's requirement that the
	// connection own this exclusively. It governs, among other things,
	// whether column-definition blocks are EOF-terminated.
	capabilities uint32

	inTransaction bool
	lastErr       error
}

// Dial opens the TCP/unix connection and runs the handshake to
// completion. The returned Conn is in StateIdle.
func Dial(opts Options) (*Conn, error) {
	raw, err := net.Dial(opts.Network, opts.Address)
	if err != nil {
		return nil, fmt.Errorf("connio: dial: %w", err)
	}

	cacheSize := opts.StmtCacheSize
	if cacheSize < stmtcache.MinCapacity {
		cacheSize = stmtcache.MinCapacity
	}
	cache, err := stmtcache.New(cacheSize)
	if err != nil {
		raw.Close()
		return nil, err
	}

	c := &Conn{
		wire:  wire.NewConn(raw),
		raw:   raw,
		opts:  opts,
		state: StateHandshaking,
		cache: cache,
	}

	result, err := Authenticate(c.wire, opts.Username, opts.Password, opts.Database)
	if err != nil {
		raw.Close()
		c.state = StateClosed
		return nil, err
	}
	c.capabilities = result.capabilities
	c.state = StateIdle
	return c, nil
}

// State reports the connection's current state.
func (c *Conn) State() State { return c.state }

// InTransaction reports whether a transaction is open on this
// connection.
func (c *Conn) InTransaction() bool { return c.inTransaction }

// Clean reports whether the connection can safely be returned to a pool:
// idle, with no open transaction and no undrained result set.
func (c *Conn) Clean() bool {
	return c.state == StateIdle && !c.inTransaction
}

// Close sends every cached prepared statement's COM_STMT_CLOSE (best
// effort) and closes the underlying network connection.
func (c *Conn) Close() error {
	if c.state == StateClosed {
		return nil
	}
	for _, ev := range c.cache.Purge() {
		_ = Close(c.wire, ev.Stmt.ID)
	}
	c.state = StateClosed
	return c.raw.Close()
}

// Ping sends COM_PING and waits for the OK response.
func (c *Conn) Ping() error {
	if c.state != StateIdle {
		return &NotCleanError{Reason: fmt.Sprintf("ping issued in state %s", c.state)}
	}
	c.wire.ResetSequence()
	b := wire.NewBuilder(1)
	b.U8(protocol.ComPing)
	if err := c.wire.WritePacket(b.Bytes()); err != nil {
		return fmt.Errorf("connio: sending COM_PING: %w", err)
	}
	pkt, err := c.wire.ReadPacket()
	if err != nil {
		c.state = StateNotClean
		return fmt.Errorf("connio: reading COM_PING response: %w", err)
	}
	if len(pkt) == 0 || pkt[0] != protocol.OKPacket {
		return &ServerError{Message: parseErrPacketMessage(pkt)}
	}
	return nil
}

// cacheKey is the key a prepared statement is cached under: the
// (possibly list-expanded) SQL text. Two different argument lists that
// expand the same SQL share one cached statement, matching spec.md's
// statement cache scoping by final SQL text rather than original text.
func cacheKey(expandedSQL string) string { return expandedSQL }

// resolveStatement returns the PreparedStatement for sql, either from
// the cache or freshly prepared, evicting and releasing whatever
// statement the cache insertion displaces.
func (c *Conn) resolveStatement(sql string) (*stmtcache.PreparedStatement, error) {
	key := cacheKey(sql)
	if stmt, ok := c.cache.Lookup(key); ok {
		return stmt, nil
	}
	stmt, err := Prepare(c.wire, c.capabilities, sql)
	if err != nil {
		return nil, err
	}
	if evicted := c.cache.Insert(key, stmt); evicted != nil {
		if err := Close(c.wire, evicted.Stmt.ID); err != nil {
			c.state = StateNotClean
			return nil, fmt.Errorf("connio: releasing evicted statement: %w", err)
		}
	}
	return stmt, nil
}

// Execute runs sql with args bound positionally, applying list expansion
// first. It returns either an ExecResult (for statements with no result
// set) or a Rows stream the caller must fully drain or explicitly
// abandon before issuing another command.
func (c *Conn) Execute(sql string, args []any) (*ExecResult, *Rows, error) {
	if c.state != StateIdle {
		return nil, nil, &NotCleanError{Reason: fmt.Sprintf("execute issued in state %s", c.state)}
	}

	expandedSQL, expandedArgs, _, err := values.ExpandSQL(sql, args)
	if err != nil {
		return nil, nil, err
	}

	stmt, err := c.resolveStatement(expandedSQL)
	if err != nil {
		if _, ok := err.(*ServerError); !ok {
			c.state = StateNotClean
		}
		return nil, nil, err
	}
	if len(expandedArgs) != int(stmt.ParamCount) {
		return nil, nil, fmt.Errorf("connio: statement expects %d parameters, got %d",
			stmt.ParamCount, len(expandedArgs))
	}

	params := make([]values.Param, len(expandedArgs))
	for i, a := range expandedArgs {
		p, err := values.ToParam(a)
		if err != nil {
			return nil, nil, err
		}
		params[i] = p
	}

	c.state = StateQuerying
	if err := Execute(c.wire, stmt, params); err != nil {
		c.state = StateNotClean
		return nil, nil, err
	}

	res, rows, err := ReadExecuteResponse(c.wire, c.capabilities)
	if err != nil {
		if _, ok := err.(*ServerError); ok {
			c.state = StateIdle
			return nil, nil, err
		}
		c.state = StateNotClean
		return nil, nil, err
	}
	if rows != nil {
		c.state = StateStreaming
		return nil, rows, nil
	}
	c.state = StateIdle
	return res, nil, nil
}

// FinishStreaming transitions the connection back to idle once a Rows
// returned by Execute has been fully consumed (Next returned false). The
// caller must call this — or Close the connection — before issuing
// another command.
func (c *Conn) FinishStreaming(rows *Rows) error {
	if rows.Err() != nil {
		c.state = StateNotClean
		return rows.Err()
	}
	c.state = StateIdle
	return nil
}

// AbandonStreaming drains and discards the remainder of rows so the
// connection becomes idle again, used when a caller stops consuming a
// result set (e.g. FetchOne's allowed-one-row check) before EOF. The
// drain is bounded by timeout (spec.md's clean_timeout): a drain that
// doesn't finish in time leaves the connection NotClean rather than
// blocking the caller indefinitely on a slow or stuck server.
func (c *Conn) AbandonStreaming(rows *Rows, timeout time.Duration) error {
	if timeout > 0 {
		c.raw.SetReadDeadline(time.Now().Add(timeout))
		defer c.raw.SetReadDeadline(time.Time{})
	}
	if err := rows.Drain(); err != nil {
		c.state = StateNotClean
		return err
	}
	c.state = StateIdle
	return nil
}

// queryText sends sql as a text-protocol COM_QUERY, bypassing prepare and
// the statement cache entirely. It is for session-control statements
// (START TRANSACTION, COMMIT, ROLLBACK) that take no bound parameters and
// have no business going through the binary protocol, per spec.md
// section 5's Idle -> Querying -> Idle (text or ping) transition. Only an
// OK_Packet response is handled — callers must not use this for
// statements that might return a result set.
func (c *Conn) queryText(sql string) error {
	if c.state != StateIdle {
		return &NotCleanError{Reason: fmt.Sprintf("text query issued in state %s", c.state)}
	}
	c.state = StateQuerying
	c.wire.ResetSequence()
	b := wire.NewBuilder(len(sql) + 1)
	b.U8(protocol.ComQuery)
	b.Raw([]byte(sql))
	if err := c.wire.WritePacket(b.Bytes()); err != nil {
		c.state = StateNotClean
		return fmt.Errorf("connio: sending COM_QUERY: %w", err)
	}

	pkt, err := c.wire.ReadPacket()
	if err != nil {
		c.state = StateNotClean
		return fmt.Errorf("connio: reading COM_QUERY response: %w", err)
	}
	if len(pkt) == 0 {
		c.state = StateNotClean
		return fmt.Errorf("connio: empty COM_QUERY response")
	}
	switch pkt[0] {
	case protocol.OKPacket:
		c.state = StateIdle
		return nil
	case protocol.ErrPacket:
		c.state = StateIdle
		return &ServerError{Message: parseErrPacketMessage(pkt)}
	default:
		c.state = StateNotClean
		return fmt.Errorf("connio: unexpected COM_QUERY response byte 0x%02x", pkt[0])
	}
}

// Begin issues text START TRANSACTION.
func (c *Conn) Begin() error {
	if c.inTransaction {
		return &NotCleanError{Reason: "transaction already open"}
	}
	if err := c.queryText("START TRANSACTION"); err != nil {
		return err
	}
	c.inTransaction = true
	return nil
}

// Commit issues text COMMIT.
func (c *Conn) Commit() error {
	if !c.inTransaction {
		return &NotCleanError{Reason: "commit without an open transaction"}
	}
	err := c.queryText("COMMIT")
	c.inTransaction = false
	return err
}

// Rollback issues text ROLLBACK.
func (c *Conn) Rollback() error {
	if !c.inTransaction {
		return &NotCleanError{Reason: "rollback without an open transaction"}
	}
	err := c.queryText("ROLLBACK")
	c.inTransaction = false
	return err
}
