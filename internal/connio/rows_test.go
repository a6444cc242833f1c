package connio

import (
	"testing"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

func TestConnExecuteStreamsRows(t *testing.T) {
	c, fs := newPipedConn(t)

	done := make(chan struct{})
	go func() {
		fs.respondToPrepare(3, 0, 1)
		fs.conn.ResetSequence()
		if _, err := fs.conn.ReadPacket(); err != nil { // COM_STMT_EXECUTE
			t.Error(err)
			return
		}

		header := wire.NewBuilder(1)
		header.LenencInt(1)
		if err := fs.conn.WritePacket(header.Bytes()); err != nil {
			t.Error(err)
			return
		}
		if err := fs.conn.WritePacket(fakeColumnDef("name", protocol.TypeVarString)); err != nil {
			t.Error(err)
			return
		}
		if err := fs.conn.WritePacket([]byte{protocol.EOFPacket, 0, 0, 0, 0}); err != nil {
			t.Error(err)
			return
		}

		row1 := wire.NewBuilder(8)
		row1.U8(0) // row packet header byte
		row1.Raw([]byte{0}) // null bitmap, 1 column, no nulls
		row1.LenencString([]byte("alice"))
		if err := fs.conn.WritePacket(row1.Bytes()); err != nil {
			t.Error(err)
			return
		}

		if err := fs.conn.WritePacket([]byte{protocol.EOFPacket, 0, 0, 0, 0}); err != nil {
			t.Error(err)
			return
		}
		close(done)
	}()

	_, rows, err := c.Execute("select name from users", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rows == nil {
		t.Fatal("expected a Rows stream")
	}

	if !rows.Next() {
		t.Fatalf("expected one row, got err: %v", rows.Err())
	}
	row := rows.Row()
	if len(row.Payload) == 0 {
		t.Fatal("expected a non-empty row payload")
	}

	if rows.Next() {
		t.Fatal("expected exactly one row")
	}
	if rows.Err() != nil {
		t.Fatal(rows.Err())
	}

	<-done
	if err := c.FinishStreaming(rows); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want idle", c.State())
	}
}
