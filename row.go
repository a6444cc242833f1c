package mysqlx

import (
	"fmt"
	"time"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/resultset"
	"github.com/dbbouncer/mysqlx/internal/values"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// Row is one binary-protocol result row. Column values are decoded
// lazily, on the first access of that column, so a type-mismatch error
// is reported against the specific column a caller actually asked for
// rather than failing the whole row up front.
type Row struct {
	columns []resultset.ColumnDef
	fields  [][]byte // nil entry means SQL NULL
}

// newRow splits raw (a connio Rows.Row().Payload) into one raw byte slice
// per column, skipping the leading packet-header byte and null bitmap and
// using each column's declared type to find the extent of its encoded
// value, without yet decoding it.
func newRow(raw resultset.Row) (*Row, error) {
	r := wire.NewReader(raw.Payload)
	if err := r.Skip(1); err != nil { // packet header byte, always 0x00 for a row
		return nil, fmt.Errorf("mysqlx: reading row header: %w", err)
	}
	bitmap, err := r.Bytes(values.NullBitmapLen(len(raw.Columns)))
	if err != nil {
		return nil, fmt.Errorf("mysqlx: reading row null bitmap: %w", err)
	}

	fields := make([][]byte, len(raw.Columns))
	for i, col := range raw.Columns {
		if values.IsNull(bitmap, i) {
			continue
		}
		field, err := readFieldExtent(r, raw.Payload, col)
		if err != nil {
			return nil, fmt.Errorf("mysqlx: reading column %q: %w", col.Name, err)
		}
		fields[i] = field
	}
	return &Row{columns: raw.Columns, fields: fields}, nil
}

// readFieldExtent advances r past one column's encoded value and returns
// the raw bytes it consumed, still in wire format (lenenc header included
// for variable-width fields) so the slice can be handed to a fresh
// wire.Reader and the matching values.Decoder method later.
func readFieldExtent(r *wire.Reader, payload []byte, col resultset.ColumnDef) ([]byte, error) {
	start := r.Pos()
	switch col.Type {
	case protocol.TypeTiny:
		if err := r.Skip(1); err != nil {
			return nil, err
		}
	case protocol.TypeShort, protocol.TypeYear:
		if err := r.Skip(2); err != nil {
			return nil, err
		}
	case protocol.TypeLong, protocol.TypeInt24, protocol.TypeFloat:
		if err := r.Skip(4); err != nil {
			return nil, err
		}
	case protocol.TypeLongLong, protocol.TypeDouble:
		if err := r.Skip(8); err != nil {
			return nil, err
		}
	case protocol.TypeDate, protocol.TypeDatetime, protocol.TypeTimestamp, protocol.TypeTime:
		n, err := r.U8()
		if err != nil {
			return nil, err
		}
		if err := r.Skip(int(n)); err != nil {
			return nil, err
		}
	default: // length-encoded string/blob family: VARCHAR, BLOB, DECIMAL, JSON, ...
		if _, err := r.LenencString(); err != nil {
			return nil, err
		}
	}
	return payload[start:r.Pos()], nil
}

// ColumnCount returns the number of columns in the row.
func (r *Row) ColumnCount() int { return len(r.columns) }

// ColumnName returns the name of the column at index i.
func (r *Row) ColumnName(i int) string { return r.columns[i].Name }

// IsNull reports whether column i is SQL NULL.
func (r *Row) IsNull(i int) bool { return r.fields[i] == nil }

// Index returns the 0-based column index for name, or -1 if no column
// has that name.
func (r *Row) Index(name string) int {
	for i, c := range r.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (r *Row) decoder(i int) *values.Decoder {
	return values.NewDecoder(wire.NewReader(r.fields[i]), r.columns[i])
}

// Int64 decodes column i as a signed integer.
func (r *Row) Int64(i int) (int64, error) { return r.decoder(i).Int64() }

// Uint64 decodes column i as an unsigned integer.
func (r *Row) Uint64(i int) (uint64, error) { return r.decoder(i).Uint64() }

// Float64 decodes column i as a FLOAT or DOUBLE.
func (r *Row) Float64(i int) (float64, error) { return r.decoder(i).Float64() }

// String decodes column i as a textual, decimal, JSON or blob value.
func (r *Row) String(i int) (string, error) { return r.decoder(i).String() }

// Bytes decodes column i as raw bytes.
func (r *Row) Bytes(i int) ([]byte, error) { return r.decoder(i).Bytes() }

// Bool decodes column i as a TINY, non-zero meaning true.
func (r *Row) Bool(i int) (bool, error) { return r.decoder(i).Bool() }

// Time decodes column i as a DATE/DATETIME/TIMESTAMP.
func (r *Row) Time(i int) (time.Time, error) { return r.decoder(i).Time() }

// Duration decodes column i as a TIME.
func (r *Row) Duration(i int) (time.Duration, error) { return r.decoder(i).Duration() }
