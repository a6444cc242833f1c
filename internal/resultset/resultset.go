// Package resultset holds the Column and Row types shared by the binary
// protocol codec (internal/values), the prepared-statement cache
// (internal/stmtcache) and the connection state machine
// (internal/connio). Keeping them in their own package avoids an import
// cycle between those three.
package resultset

import "github.com/dbbouncer/mysqlx/internal/protocol"

// ColumnDef is the metadata for one result or parameter column, as
// described by spec.md section 3 (Column). It is parsed from a
// Protocol::ColumnDefinition41 packet.
type ColumnDef struct {
	Name      string
	Type      protocol.ColumnType
	Flags     uint16
	Charset   uint16
	Decimals  byte
	ColLength uint32
}

// Unsigned reports whether the column's UNSIGNED flag is set.
func (c ColumnDef) Unsigned() bool { return c.Flags&protocol.FlagUnsigned != 0 }

// NotNull reports whether the column's NOT NULL flag is set.
func (c ColumnDef) NotNull() bool { return c.Flags&protocol.FlagNotNull != 0 }

// Row is the raw binary-protocol row payload plus a reference to the
// result's column definitions, per spec.md section 3 (Row). Decoding is
// deferred to Scan time so that type-mismatch and narrowing errors are
// reported against the column the caller actually asked for, exactly as
// spec.md section 4.2 describes. Per spec.md, "a row is valid only until
// the next row is requested or the iterator is dropped" — Go's garbage
// collector makes retaining a Row past that point merely useless rather
// than unsafe, but callers should still treat it as single-use.
type Row struct {
	Payload []byte
	Columns []ColumnDef
}
