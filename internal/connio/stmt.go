package connio

import (
	"fmt"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/resultset"
	"github.com/dbbouncer/mysqlx/internal/stmtcache"
	"github.com/dbbouncer/mysqlx/internal/values"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// Prepare sends COM_STMT_PREPARE for sql and reads the full
// COM_STMT_PREPARE_OK response: the OK header, the parameter definition
// block, and the column definition block, each terminated by an EOF
// packet (or, under CLIENT_DEPRECATE_EOF, absent entirely).
func Prepare(conn *wire.Conn, caps uint32, sql string) (*stmtcache.PreparedStatement, error) {
	conn.ResetSequence()
	b := wire.NewBuilder(len(sql) + 1)
	b.U8(protocol.ComStmtPrepare)
	b.Raw([]byte(sql))
	if err := conn.WritePacket(b.Bytes()); err != nil {
		return nil, fmt.Errorf("connio: sending COM_STMT_PREPARE: %w", err)
	}

	pkt, err := conn.ReadPacket()
	if err != nil {
		return nil, fmt.Errorf("connio: reading COM_STMT_PREPARE_OK: %w", err)
	}
	if len(pkt) == 0 {
		return nil, fmt.Errorf("connio: empty COM_STMT_PREPARE response")
	}
	if pkt[0] == protocol.ErrPacket {
		return nil, &ServerError{Message: parseErrPacketMessage(pkt)}
	}

	r := wire.NewReader(pkt)
	if _, err := r.U8(); err != nil { // OK marker
		return nil, err
	}
	id, err := r.U32()
	if err != nil {
		return nil, err
	}
	columnCount, err := r.U16()
	if err != nil {
		return nil, err
	}
	paramCount, err := r.U16()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(1); err != nil { // reserved filler
		return nil, err
	}
	if _, err := r.U16(); err != nil { // warning count
		return nil, err
	}

	stmt := &stmtcache.PreparedStatement{SQL: sql, ID: id, ParamCount: paramCount}

	if paramCount > 0 {
		defs, err := readColumnDefs(conn, caps, int(paramCount))
		if err != nil {
			return nil, err
		}
		stmt.Params = defs
	}
	if columnCount > 0 {
		defs, err := readColumnDefs(conn, caps, int(columnCount))
		if err != nil {
			return nil, err
		}
		stmt.Columns = defs
	}
	return stmt, nil
}

// readColumnDefs reads n Protocol::ColumnDefinition41 packets followed by
// the terminating EOF packet, which is absent entirely when the
// connection negotiated CLIENT_DEPRECATE_EOF with the server.
func readColumnDefs(conn *wire.Conn, caps uint32, n int) ([]resultset.ColumnDef, error) {
	defs := make([]resultset.ColumnDef, 0, n)
	for i := 0; i < n; i++ {
		pkt, err := conn.ReadPacket()
		if err != nil {
			return nil, fmt.Errorf("connio: reading column definition: %w", err)
		}
		def, err := parseColumnDefinition(pkt)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if !protocol.HasCapability(caps, protocol.ClientDeprecateEOF) {
		if _, err := conn.ReadPacket(); err != nil { // terminating EOF
			return nil, fmt.Errorf("connio: reading column definition EOF: %w", err)
		}
	}
	return defs, nil
}

// parseColumnDefinition parses one Protocol::ColumnDefinition41 packet.
func parseColumnDefinition(pkt []byte) (resultset.ColumnDef, error) {
	var def resultset.ColumnDef
	r := wire.NewReader(pkt)

	skipLenenc := func() error {
		_, err := r.LenencString()
		return err
	}
	if err := skipLenenc(); err != nil { // catalog
		return def, err
	}
	if err := skipLenenc(); err != nil { // schema
		return def, err
	}
	if err := skipLenenc(); err != nil { // table
		return def, err
	}
	if err := skipLenenc(); err != nil { // org_table
		return def, err
	}
	name, err := r.LenencString()
	if err != nil {
		return def, err
	}
	def.Name = string(name)
	if err := skipLenenc(); err != nil { // org_name
		return def, err
	}
	if _, _, err := r.LenencInt(); err != nil { // length of fixed-length fields, always 0x0c
		return def, err
	}
	charset, err := r.U16()
	if err != nil {
		return def, err
	}
	def.Charset = charset
	colLength, err := r.U32()
	if err != nil {
		return def, err
	}
	def.ColLength = colLength
	colType, err := r.U8()
	if err != nil {
		return def, err
	}
	def.Type = protocol.ColumnType(colType)
	flags, err := r.U16()
	if err != nil {
		return def, err
	}
	def.Flags = flags
	decimals, err := r.U8()
	if err != nil {
		return def, err
	}
	def.Decimals = decimals
	return def, nil
}

// Execute sends COM_STMT_EXECUTE for stmt bound to params, in the
// cursor-less CURSOR_TYPE_NO_CURSOR mode spec.md scopes this client to.
func Execute(conn *wire.Conn, stmt *stmtcache.PreparedStatement, params []values.Param) error {
	conn.ResetSequence()
	paramCount := len(params)
	nullBitmapSize := (paramCount + 7) / 8

	b := wire.NewBuilder(64 + paramCount*9)
	b.U8(protocol.ComStmtExecute)
	b.U32(stmt.ID)
	b.U8(0) // flags: CURSOR_TYPE_NO_CURSOR
	b.U32(1) // iteration_count, always 1

	if paramCount == 0 {
		return sendPacket(conn, b)
	}

	nullBitmap := make([]byte, nullBitmapSize)
	for i, p := range params {
		if p.IsNull {
			nullBitmap[i/8] |= 1 << uint(i%8)
		}
	}
	b.Raw(nullBitmap)
	b.U8(1) // new_params_bound_flag

	for _, p := range params {
		unsignedBit := byte(0)
		if p.Unsigned {
			unsignedBit = 0x80
		}
		b.U8(byte(p.Type))
		b.U8(unsignedBit)
	}
	for _, p := range params {
		if !p.IsNull {
			b.Raw(p.Payload)
		}
	}
	return sendPacket(conn, b)
}

func sendPacket(conn *wire.Conn, b *wire.Builder) error {
	if err := conn.WritePacket(b.Bytes()); err != nil {
		return fmt.Errorf("connio: sending COM_STMT_EXECUTE: %w", err)
	}
	return nil
}

// Close sends COM_STMT_CLOSE for id. MySQL sends no response to this
// command, so the caller must not attempt to read a reply.
func Close(conn *wire.Conn, id uint32) error {
	conn.ResetSequence()
	b := wire.NewBuilder(5)
	b.U8(protocol.ComStmtClose)
	b.U32(id)
	if err := conn.WritePacket(b.Bytes()); err != nil {
		return fmt.Errorf("connio: sending COM_STMT_CLOSE: %w", err)
	}
	return nil
}
