package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// startFakeServer listens on an ephemeral local port and, for every
// accepted connection, plays the server half of the handshake and then
// answers every subsequent command (including COM_PING) with an
// OK_Packet. This is enough for pool tests to dial, authenticate, and
// exercise Acquire/Release without a real mysqld.
func startFakeServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeConn(conn)
		}
	}()
	return ln.Addr().String()
}

func serveFakeConn(raw net.Conn) {
	defer raw.Close()
	c := wire.NewConn(raw)

	b := wire.NewBuilder(64)
	b.U8(10)
	b.NullString("8.0.34-fake")
	b.U32(1)
	b.Raw([]byte("01234567"))
	b.U8(0)
	caps := protocol.HandshakeCapabilities
	b.U16(uint16(caps))
	b.U8(0x21)
	b.U16(2)
	b.U16(uint16(caps >> 16))
	b.U8(21)
	b.Raw(make([]byte, 10))
	b.Raw([]byte("89abcdefghij"))
	b.U8(0)
	b.NullString(protocol.AuthPluginMySQLNativePassword)
	if err := c.WritePacket(b.Bytes()); err != nil {
		return
	}
	if _, err := c.ReadPacket(); err != nil { // HandshakeResponse41
		return
	}

	ok := wire.NewBuilder(8)
	ok.U8(protocol.OKPacket)
	ok.LenencInt(0)
	ok.LenencInt(0)
	ok.U16(2)
	ok.U16(0)
	if err := c.WritePacket(ok.Bytes()); err != nil {
		return
	}

	for {
		c.ResetSequence()
		if _, err := c.ReadPacket(); err != nil {
			return
		}
		resp := wire.NewBuilder(8)
		resp.U8(protocol.OKPacket)
		resp.LenencInt(0)
		resp.LenencInt(0)
		resp.U16(2)
		resp.U16(0)
		if err := c.WritePacket(resp.Bytes()); err != nil {
			return
		}
	}
}

// startFakeServerWithSlowPing behaves like startFakeServer except it
// delays its response to every COM_PING by delay, letting tests observe
// whether the pool mutex stays held across that round-trip.
func startFakeServerWithSlowPing(t *testing.T, delay time.Duration) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeConnSlowPing(conn, delay)
		}
	}()
	return ln.Addr().String()
}

func serveFakeConnSlowPing(raw net.Conn, delay time.Duration) {
	defer raw.Close()
	c := wire.NewConn(raw)

	b := wire.NewBuilder(64)
	b.U8(10)
	b.NullString("8.0.34-fake")
	b.U32(1)
	b.Raw([]byte("01234567"))
	b.U8(0)
	caps := protocol.HandshakeCapabilities
	b.U16(uint16(caps))
	b.U8(0x21)
	b.U16(2)
	b.U16(uint16(caps >> 16))
	b.U8(21)
	b.Raw(make([]byte, 10))
	b.Raw([]byte("89abcdefghij"))
	b.U8(0)
	b.NullString(protocol.AuthPluginMySQLNativePassword)
	if err := c.WritePacket(b.Bytes()); err != nil {
		return
	}
	if _, err := c.ReadPacket(); err != nil {
		return
	}

	ok := wire.NewBuilder(8)
	ok.U8(protocol.OKPacket)
	ok.LenencInt(0)
	ok.LenencInt(0)
	ok.U16(2)
	ok.U16(0)
	if err := c.WritePacket(ok.Bytes()); err != nil {
		return
	}

	for {
		c.ResetSequence()
		pkt, err := c.ReadPacket()
		if err != nil {
			return
		}
		if len(pkt) > 0 && pkt[0] == protocol.ComPing {
			time.Sleep(delay)
		}
		resp := wire.NewBuilder(8)
		resp.U8(protocol.OKPacket)
		resp.LenencInt(0)
		resp.LenencInt(0)
		resp.U16(2)
		resp.U16(0)
		if err := c.WritePacket(resp.Bytes()); err != nil {
			return
		}
	}
}

func testConfig(addr string) Config {
	return Config{
		Network:        "tcp",
		Address:        addr,
		Username:       "root",
		Password:       "secret",
		Database:       "test",
		MaxConnections: 2,
		AcquireTimeout: 2 * time.Second,
	}
}

func TestPoolAcquireCreatesUpToMax(t *testing.T) {
	addr := startFakeServer(t)
	p := New(testConfig(addr))
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c1 == c2 {
		t.Fatal("expected two distinct connections")
	}

	stats := p.Stats()
	if stats.InFlight != 2 {
		t.Fatalf("in-flight = %d, want 2", stats.InFlight)
	}
	if stats.Unallocated != 0 {
		t.Fatalf("unallocated = %d, want 0", stats.Unallocated)
	}
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	addr := startFakeServer(t)
	cfg := testConfig(addr)
	cfg.MaxConnections = 1
	cfg.AcquireTimeout = 200 * time.Millisecond
	p := New(cfg)
	defer p.Close()

	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := p.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected an acquire timeout error")
	}
}

func TestPoolReleaseMakesConnectionReusable(t *testing.T) {
	addr := startFakeServer(t)
	cfg := testConfig(addr)
	cfg.MaxConnections = 1
	p := New(cfg)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Release(c1)

	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatal("expected the released connection to be reused")
	}
}

func TestPoolAcquireAppliesReconnectTimeOnDialFailure(t *testing.T) {
	// An address nothing is listening on fails fast, letting the dial
	// failure branch run deterministically.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close() // now guaranteed refused

	cfg := testConfig(addr)
	cfg.ReconnectTime = 150 * time.Millisecond
	cfg.AcquireTimeout = 5 * time.Second
	p := New(cfg)
	defer p.Close()

	start := time.Now()
	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("expected a dial error")
	}
	if elapsed := time.Since(start); elapsed < cfg.ReconnectTime {
		t.Fatalf("Acquire returned after %s, want at least ReconnectTime %s", elapsed, cfg.ReconnectTime)
	}

	stats := p.Stats()
	if stats.Unallocated != cfg.MaxConnections {
		t.Fatalf("unallocated = %d, want %d (slot should be released after the wait)", stats.Unallocated, cfg.MaxConnections)
	}
}

func TestPoolAcquireReconnectWaitRespectsContextCancellation(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig(addr)
	cfg.ReconnectTime = 10 * time.Second
	cfg.AcquireTimeout = 10 * time.Second
	p := New(cfg)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatal("expected an error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Acquire took %s, want it to return promptly once ctx was done", elapsed)
	}
}

func TestPoolAcquireDoesNotHoldMutexAcrossPing(t *testing.T) {
	const pingDelay = 300 * time.Millisecond
	addr := startFakeServerWithSlowPing(t, pingDelay)
	cfg := testConfig(addr)
	cfg.MaxConnections = 2
	p := New(cfg)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Release(c1) // idle, so the next Acquire will re-ping it

	reacquired := make(chan struct{})
	go func() {
		if _, err := p.Acquire(context.Background()); err != nil {
			t.Error(err)
		}
		close(reacquired)
	}()
	time.Sleep(20 * time.Millisecond) // let the goroutine above start its slow ping

	start := time.Now()
	p.Stats() // must not block behind the in-flight ping's mutex hold
	if elapsed := time.Since(start); elapsed > pingDelay/2 {
		t.Fatalf("Stats took %s while a ping was in flight, want it to return promptly", elapsed)
	}

	select {
	case <-reacquired:
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire never completed")
	}
}

func TestPoolInvariantFreePlusInFlightPlusUnallocated(t *testing.T) {
	addr := startFakeServer(t)
	cfg := testConfig(addr)
	cfg.MaxConnections = 3
	p := New(cfg)
	defer p.Close()

	c1, _ := p.Acquire(context.Background())
	c2, _ := p.Acquire(context.Background())
	p.Release(c1)

	stats := p.Stats()
	if stats.Free+stats.InFlight+stats.Unallocated != stats.MaxConns {
		t.Fatalf("invariant violated: %+v", stats)
	}
	p.Release(c2)
}
