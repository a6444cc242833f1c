package values

import (
	"fmt"
	"math"
	"time"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/resultset"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// DecodeError reports that a row column could not be decoded into the
// Go type the caller asked for: either the server-reported column type
// isn't in the allowed set for that Go type, or the value overflows the
// destination's width.
type DecodeError struct {
	Column string
	Got    protocol.ColumnType
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mysqlx: decode column %q (%s): %s", e.Column, e.Got, e.Msg)
}

func decodeErrorf(col resultset.ColumnDef, format string, a ...any) error {
	return &DecodeError{Column: col.Name, Got: col.Type, Msg: fmt.Sprintf(format, a...)}
}

// nullBitmapOffset is the fixed 2-bit head start (status byte + reserved
// bit) every binary-protocol result-row null bitmap carries, per
// Protocol::BinaryResultsetRow.
const nullBitmapOffset = 2

// IsNull reports whether the column at index col (0-based) is NULL
// according to bitmap, which must be the row payload's leading null
// bitmap bytes ((columnCount+7+2)/8 of them, rounded down; see
// NullBitmapLen).
func IsNull(bitmap []byte, col int) bool {
	pos := col + nullBitmapOffset
	byteIdx := pos / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<uint(pos%8)) != 0
}

// NullBitmapLen returns the byte length of the null bitmap for a binary
// result row with columnCount columns.
func NullBitmapLen(columnCount int) int {
	return (columnCount + 7 + nullBitmapOffset) / 8
}

// Decoder reads typed values out of one row. Each typed accessor on
// mysqlx.Row (Int64, String, Bytes, ...) constructs a Decoder for the
// column it reads and calls the matching decode method, returning a DecodeError if the server's
// reported column type isn't one this destination type accepts.
type Decoder struct {
	r   *wire.Reader
	col resultset.ColumnDef
}

// NewDecoder wraps a single column's already-positioned reader, ready to
// decode the value described by col (and nothing else — callers decode
// one column value per Decoder).
func NewDecoder(r *wire.Reader, col resultset.ColumnDef) *Decoder {
	return &Decoder{r: r, col: col}
}

func (d *Decoder) allowed(types ...protocol.ColumnType) error {
	for _, t := range types {
		if d.col.Type == t {
			return nil
		}
	}
	return decodeErrorf(d.col, "type not convertible to requested Go type")
}

// Int64 decodes an integer column into an int64, rejecting unsigned
// columns whose value would overflow (e.g. an UNSIGNED BIGINT above
// math.MaxInt64).
func (d *Decoder) Int64() (int64, error) {
	if err := d.allowed(protocol.TypeTiny, protocol.TypeShort, protocol.TypeLong,
		protocol.TypeInt24, protocol.TypeLongLong, protocol.TypeYear); err != nil {
		return 0, err
	}
	switch d.col.Type {
	case protocol.TypeTiny:
		b, err := d.r.U8()
		if err != nil {
			return 0, err
		}
		if d.col.Unsigned() {
			return int64(b), nil
		}
		return int64(int8(b)), nil
	case protocol.TypeShort, protocol.TypeYear:
		v, err := d.r.U16()
		if err != nil {
			return 0, err
		}
		if d.col.Unsigned() {
			return int64(v), nil
		}
		return int64(int16(v)), nil
	case protocol.TypeLong, protocol.TypeInt24:
		v, err := d.r.U32()
		if err != nil {
			return 0, err
		}
		if d.col.Unsigned() {
			return int64(v), nil
		}
		return int64(int32(v)), nil
	default: // TypeLongLong
		v, err := d.r.U64()
		if err != nil {
			return 0, err
		}
		if d.col.Unsigned() {
			if v > 1<<63-1 {
				return 0, decodeErrorf(d.col, "unsigned value %d overflows int64", v)
			}
			return int64(v), nil
		}
		return int64(v), nil
	}
}

// Uint64 decodes an integer column into a uint64, rejecting signed
// negative values outright since they have no unsigned representation.
func (d *Decoder) Uint64() (uint64, error) {
	v, err := d.Int64()
	if err != nil {
		return 0, err
	}
	if v < 0 && !d.col.Unsigned() {
		return 0, decodeErrorf(d.col, "negative value %d cannot convert to uint64", v)
	}
	return uint64(v), nil
}

// Float64 decodes a FLOAT or DOUBLE column.
func (d *Decoder) Float64() (float64, error) {
	if err := d.allowed(protocol.TypeFloat, protocol.TypeDouble); err != nil {
		return 0, err
	}
	if d.col.Type == protocol.TypeFloat {
		v, err := d.r.U32()
		if err != nil {
			return 0, err
		}
		return float64(math.Float32frombits(v)), nil
	}
	v, err := d.r.U64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// String decodes a textual or decimal column into a string. BLOB-family
// types are also accepted since MySQL reports TEXT columns under the
// same BLOB type codes as binary BLOBs, distinguished only by charset.
func (d *Decoder) String() (string, error) {
	if err := d.allowed(protocol.TypeVarChar, protocol.TypeVarString, protocol.TypeString,
		protocol.TypeBlob, protocol.TypeTinyBlob, protocol.TypeMediumBlob, protocol.TypeLongBlob,
		protocol.TypeDecimal, protocol.TypeNewDecimal, protocol.TypeJSON,
		protocol.TypeEnum, protocol.TypeSet, protocol.TypeBit); err != nil {
		return "", err
	}
	b, err := d.r.LenencString()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes decodes a BLOB-family or textual column into a []byte without a
// string copy's allocation-free guarantee concern — useful for binary
// payloads.
func (d *Decoder) Bytes() ([]byte, error) {
	if err := d.allowed(protocol.TypeVarChar, protocol.TypeVarString, protocol.TypeString,
		protocol.TypeBlob, protocol.TypeTinyBlob, protocol.TypeMediumBlob, protocol.TypeLongBlob,
		protocol.TypeDecimal, protocol.TypeNewDecimal, protocol.TypeJSON, protocol.TypeBit); err != nil {
		return nil, err
	}
	return d.r.LenencString()
}

// Bool decodes a TINY column as a boolean (0 is false, anything else
// true), matching the convention MySQL itself uses for BOOLEAN/BOOL.
func (d *Decoder) Bool() (bool, error) {
	if err := d.allowed(protocol.TypeTiny); err != nil {
		return false, err
	}
	b, err := d.r.U8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// Time decodes a DATE, DATETIME or TIMESTAMP column.
func (d *Decoder) Time() (time.Time, error) {
	if err := d.allowed(protocol.TypeDate, protocol.TypeDatetime, protocol.TypeTimestamp); err != nil {
		return time.Time{}, err
	}
	return DecodeDatetime(d.r)
}

// Duration decodes a TIME column.
func (d *Decoder) Duration() (time.Duration, error) {
	if err := d.allowed(protocol.TypeTime); err != nil {
		return 0, err
	}
	return DecodeTime(d.r)
}
