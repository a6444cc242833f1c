package connio

import (
	"fmt"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/resultset"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// ExecResult is the outcome of a COM_STMT_EXECUTE that produced an
// OK_Packet rather than a result set: an INSERT/UPDATE/DELETE or a DDL
// statement.
type ExecResult struct {
	AffectedRows uint64
	LastInsertID uint64
	Status       uint16
	Warnings     uint16
}

// Rows streams a binary-protocol result set one row at a time. It holds
// no lookahead: the caller must call Next before Row's payload is valid,
// mirroring spec.md's "valid until the next row is requested" Row
// lifetime.
type Rows struct {
	conn    *wire.Conn
	columns []resultset.ColumnDef
	done    bool
	err     error
	current resultset.Row
}

// Columns returns the result set's column metadata.
func (r *Rows) Columns() []resultset.ColumnDef { return r.columns }

// Next advances to the next row, returning false when the result set is
// exhausted (whether cleanly via EOF or due to an error — call Err to
// distinguish the two).
func (r *Rows) Next() bool {
	if r.done || r.err != nil {
		return false
	}
	pkt, err := r.conn.ReadPacket()
	if err != nil {
		r.err = fmt.Errorf("connio: reading result row: %w", err)
		r.done = true
		return false
	}
	if len(pkt) == 0 {
		r.err = fmt.Errorf("connio: empty result row packet")
		r.done = true
		return false
	}
	switch pkt[0] {
	case protocol.EOFPacket:
		r.done = true
		return false
	case protocol.ErrPacket:
		r.err = &ServerError{Message: parseErrPacketMessage(pkt)}
		r.done = true
		return false
	default:
		r.current = resultset.Row{Payload: pkt, Columns: r.columns}
		return true
	}
}

// Row returns the row last yielded by Next.
func (r *Rows) Row() resultset.Row { return r.current }

// Err returns the error, if any, that stopped iteration. A nil Err after
// Next returns false means the result set was exhausted cleanly.
func (r *Rows) Err() error { return r.err }

// Drain reads and discards every remaining row, used to return a
// connection to a clean idle state when a caller abandons a result set
// before exhausting it.
func (r *Rows) Drain() error {
	for r.Next() {
	}
	return r.err
}

// ReadExecuteResponse reads the first packet of a COM_STMT_EXECUTE (or
// COM_QUERY) response and dispatches to either an ExecResult or a Rows
// stream, per spec.md section 4.1's response discriminator rule.
func ReadExecuteResponse(conn *wire.Conn, caps uint32) (*ExecResult, *Rows, error) {
	pkt, err := conn.ReadPacket()
	if err != nil {
		return nil, nil, fmt.Errorf("connio: reading command response: %w", err)
	}
	if len(pkt) == 0 {
		return nil, nil, fmt.Errorf("connio: empty command response")
	}

	switch pkt[0] {
	case protocol.ErrPacket:
		return nil, nil, &ServerError{Message: parseErrPacketMessage(pkt)}
	case protocol.OKPacket:
		res, err := parseOKPacket(pkt)
		return res, nil, err
	default:
		rows, err := readResultSetHeader(conn, caps, pkt)
		return nil, rows, err
	}
}

// readResultSetHeader reads the remaining column definition block for a
// result set whose column-count packet has already been read into
// columnCountPacket.
func readResultSetHeader(conn *wire.Conn, caps uint32, columnCountPacket []byte) (*Rows, error) {
	r := wire.NewReader(columnCountPacket)
	columnCount, _, err := r.LenencInt()
	if err != nil {
		return nil, fmt.Errorf("connio: reading column count: %w", err)
	}

	defs, err := readColumnDefs(conn, caps, int(columnCount))
	if err != nil {
		return nil, err
	}
	return &Rows{conn: conn, columns: defs}, nil
}

func parseOKPacket(pkt []byte) (*ExecResult, error) {
	r := wire.NewReader(pkt)
	if _, err := r.U8(); err != nil {
		return nil, err
	}
	affected, _, err := r.LenencInt()
	if err != nil {
		return nil, err
	}
	lastID, _, err := r.LenencInt()
	if err != nil {
		return nil, err
	}
	status, err := r.U16()
	if err != nil {
		return nil, err
	}
	warnings, err := r.U16()
	if err != nil {
		return nil, err
	}
	return &ExecResult{
		AffectedRows: affected,
		LastInsertID: lastID,
		Status:       status,
		Warnings:     warnings,
	}, nil
}
