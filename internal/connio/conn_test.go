package connio

import (
	"net"
	"testing"
	"time"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/stmtcache"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// fakeServer drives the server half of a net.Pipe, answering the
// handshake and then one scripted command/response exchange, enough to
// exercise Conn without a real mysqld.
type fakeServer struct {
	conn *wire.Conn
	t    *testing.T
}

func newFakeServer(t *testing.T, raw net.Conn) *fakeServer {
	return &fakeServer{conn: wire.NewConn(raw), t: t}
}

func (f *fakeServer) handshake() {
	f.t.Helper()
	if err := f.conn.WritePacket(fakeHandshakePacket([]byte("0123456789abcdefghij"))); err != nil {
		f.t.Fatal(err)
	}
	if _, err := f.conn.ReadPacket(); err != nil {
		f.t.Fatal(err)
	}
	if err := f.conn.WritePacket(okPacket()); err != nil {
		f.t.Fatal(err)
	}
}

// respondToPrepare reads one COM_STMT_PREPARE and answers with a
// COM_STMT_PREPARE_OK declaring paramCount parameters and columnCount
// result columns, followed by one definition packet per parameter and per
// column (columns typed VAR_STRING), each block closed by an EOF packet.
func (f *fakeServer) respondToPrepare(stmtID uint32, paramCount, columnCount uint16) {
	f.t.Helper()
	f.conn.ResetSequence()
	if _, err := f.conn.ReadPacket(); err != nil {
		f.t.Fatal(err)
	}
	b := wire.NewBuilder(16)
	b.U8(protocol.OKPacket)
	b.U32(stmtID)
	b.U16(columnCount)
	b.U16(paramCount)
	b.U8(0)
	b.U16(0)
	if err := f.conn.WritePacket(b.Bytes()); err != nil {
		f.t.Fatal(err)
	}
	for i := uint16(0); i < paramCount; i++ {
		if err := f.conn.WritePacket(fakeColumnDef("", protocol.TypeVarString)); err != nil {
			f.t.Fatal(err)
		}
	}
	if paramCount > 0 {
		if err := f.conn.WritePacket([]byte{protocol.EOFPacket, 0, 0, 0, 0}); err != nil {
			f.t.Fatal(err)
		}
	}
	for i := uint16(0); i < columnCount; i++ {
		if err := f.conn.WritePacket(fakeColumnDef("col", protocol.TypeVarString)); err != nil {
			f.t.Fatal(err)
		}
	}
	if columnCount > 0 {
		if err := f.conn.WritePacket([]byte{protocol.EOFPacket, 0, 0, 0, 0}); err != nil {
			f.t.Fatal(err)
		}
	}
}

func fakeColumnDef(name string, typ protocol.ColumnType) []byte {
	b := wire.NewBuilder(32)
	b.LenencString([]byte("def"))
	b.LenencString(nil)
	b.LenencString(nil)
	b.LenencString(nil)
	b.LenencString([]byte(name))
	b.LenencString(nil)
	b.LenencInt(0x0c)
	b.U16(33) // charset
	b.U32(255)
	b.U8(byte(typ))
	b.U16(0) // flags
	b.U8(0)  // decimals
	b.U16(0) // filler
	return b.Bytes()
}

func (f *fakeServer) respondToExecuteWithOK(affected uint64) {
	f.t.Helper()
	f.conn.ResetSequence()
	if _, err := f.conn.ReadPacket(); err != nil {
		f.t.Fatal(err)
	}
	b := wire.NewBuilder(16)
	b.U8(protocol.OKPacket)
	b.LenencInt(affected)
	b.LenencInt(0)
	b.U16(2)
	b.U16(0)
	if err := f.conn.WritePacket(b.Bytes()); err != nil {
		f.t.Fatal(err)
	}
}

func newPipedConn(t *testing.T) (*Conn, *fakeServer) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
	})

	fs := newFakeServer(t, serverSide)
	done := make(chan struct{})
	go func() {
		fs.handshake()
		close(done)
	}()

	c := &Conn{
		wire:  wire.NewConn(clientSide),
		raw:   clientSide,
		state: StateHandshaking,
	}
	cache, err := stmtcache.New(stmtcache.MinCapacity)
	if err != nil {
		t.Fatal(err)
	}
	c.cache = cache

	if _, err := Authenticate(c.wire, "root", "secret", "db"); err != nil {
		t.Fatal(err)
	}
	<-done
	c.state = StateIdle
	return c, fs
}

func TestConnExecuteNoResultSet(t *testing.T) {
	c, fs := newPipedConn(t)
	done := make(chan struct{})
	go func() {
		fs.respondToPrepare(1, 1, 0)
		fs.respondToExecuteWithOK(1)
		close(done)
	}()

	res, rows, err := c.Execute("update t set a = ? where id = 1", []any{"x"})
	<-done
	if err != nil {
		t.Fatal(err)
	}
	if rows != nil {
		t.Fatal("expected no rows for an OK response")
	}
	if res.AffectedRows != 1 {
		t.Fatalf("affected rows = %d, want 1", res.AffectedRows)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want idle", c.State())
	}
}

func TestConnExecuteReusesPreparedStatement(t *testing.T) {
	c, fs := newPipedConn(t)

	done := make(chan struct{})
	go func() {
		fs.respondToPrepare(7, 1, 0)
		fs.respondToExecuteWithOK(1)
		fs.respondToExecuteWithOK(1) // second execute, no second prepare
		close(done)
	}()

	if _, _, err := c.Execute("update t set a = ? where id = 1", []any{"x"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Execute("update t set a = ? where id = 1", []any{"y"}); err != nil {
		t.Fatal(err)
	}
	<-done
	if c.cache.Len() != 1 {
		t.Fatalf("cache length = %d, want 1 (statement reused)", c.cache.Len())
	}
}

// TestBeginCommitUseTextProtocol confirms START TRANSACTION/COMMIT go out
// as text COM_QUERY commands rather than through prepare/execute.
func TestBeginCommitUseTextProtocol(t *testing.T) {
	c, fs := newPipedConn(t)

	done := make(chan struct{})
	go func() {
		fs.conn.ResetSequence()
		pkt, err := fs.conn.ReadPacket()
		if err != nil {
			t.Error(err)
			return
		}
		if len(pkt) < 1 || pkt[0] != protocol.ComQuery {
			t.Errorf("command byte = %#x, want COM_QUERY", pkt[0])
		}
		if string(pkt[1:]) != "START TRANSACTION" {
			t.Errorf("query = %q, want START TRANSACTION", pkt[1:])
		}
		fs.conn.WritePacket(okPacket())

		fs.conn.ResetSequence()
		pkt, err = fs.conn.ReadPacket()
		if err != nil {
			t.Error(err)
			return
		}
		if string(pkt[1:]) != "COMMIT" {
			t.Errorf("query = %q, want COMMIT", pkt[1:])
		}
		fs.conn.WritePacket(okPacket())
		close(done)
	}()

	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	if !c.InTransaction() {
		t.Fatal("expected InTransaction to be true after Begin")
	}
	if err := c.Commit(); err != nil {
		t.Fatal(err)
	}
	<-done
	if c.InTransaction() {
		t.Fatal("expected InTransaction to be false after Commit")
	}
	if c.cache.Len() != 0 {
		t.Fatalf("cache length = %d, want 0 (text protocol bypasses prepare)", c.cache.Len())
	}
}

// TestAbandonStreamingTimesOutOnStuckServer confirms the clean_timeout
// bound actually stops a drain against a server that never sends the
// remaining rows, rather than blocking the caller forever.
func TestAbandonStreamingTimesOutOnStuckServer(t *testing.T) {
	c, _ := newPipedConn(t)
	c.state = StateStreaming
	rows := &Rows{conn: c.wire}

	start := time.Now()
	err := c.AbandonStreaming(rows, 50*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected a timeout error draining a server that never responds")
	}
	if elapsed > time.Second {
		t.Fatalf("AbandonStreaming took %s, want it bounded near the 50ms timeout", elapsed)
	}
	if c.State() != StateNotClean {
		t.Fatalf("state = %s, want not_clean after a timed-out drain", c.State())
	}
}

// TestAbandonStreamingDrainsWithinTimeout confirms a drain that completes
// before the timeout leaves the connection idle and reusable.
func TestAbandonStreamingDrainsWithinTimeout(t *testing.T) {
	c, fs := newPipedConn(t)
	c.state = StateStreaming
	rows := &Rows{conn: c.wire}

	done := make(chan struct{})
	go func() {
		fs.conn.WritePacket([]byte{protocol.EOFPacket, 0, 0, 0, 0})
		close(done)
	}()

	if err := c.AbandonStreaming(rows, 2*time.Second); err != nil {
		t.Fatalf("AbandonStreaming: %v", err)
	}
	<-done
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want idle after a clean drain", c.State())
	}
}
