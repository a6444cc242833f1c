package values

import (
	"encoding/json"
	"math"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// The explicit narrow wrapper types below let a caller bind a value into
// a MySQL column type narrower than the value's natural Go width (e.g.
// binding into a TINYINT column) with the overflow check happening at
// bind time rather than relying on the server to reject or silently
// truncate it.

type Int8 int8
type Uint8 uint8
type Int16 int16
type Uint16 uint16
type Int32 int32
type Uint32 uint32
type Year int16

// Bit binds a BIT(N) column from its raw big-endian byte representation.
type Bit []byte

// JSON binds a value already marshaled (or marshalable) as MySQL JSON.
// A []byte or string is sent as-is; anything else is run through
// encoding/json.Marshal first.
type JSON struct {
	Value any
}

func (v Int8) BindParam() (Param, error) {
	return Param{Type: protocol.TypeTiny, Payload: []byte{byte(int8(v))}}, nil
}

func (v Uint8) BindParam() (Param, error) {
	return Param{Type: protocol.TypeTiny, Unsigned: true, Payload: []byte{byte(v)}}, nil
}

func (v Int16) BindParam() (Param, error) {
	b := wire.NewBuilder(2)
	b.U16(uint16(int16(v)))
	return Param{Type: protocol.TypeShort, Payload: b.Bytes()}, nil
}

func (v Uint16) BindParam() (Param, error) {
	b := wire.NewBuilder(2)
	b.U16(uint16(v))
	return Param{Type: protocol.TypeShort, Unsigned: true, Payload: b.Bytes()}, nil
}

func (v Int32) BindParam() (Param, error) {
	b := wire.NewBuilder(4)
	b.U32(uint32(int32(v)))
	return Param{Type: protocol.TypeLong, Payload: b.Bytes()}, nil
}

func (v Uint32) BindParam() (Param, error) {
	b := wire.NewBuilder(4)
	b.U32(uint32(v))
	return Param{Type: protocol.TypeLong, Unsigned: true, Payload: b.Bytes()}, nil
}

// BindParam encodes a Year as a signed SHORT: MariaDB will not accept
// TypeYear as a bound parameter type and instead wants a plain short here
// (range 1901-2155, with 0 meaning the zero year).
func (v Year) BindParam() (Param, error) {
	if v != 0 && (v < 1901 || v > 2155) {
		return Param{}, bindErrorf("year %d out of range [1901, 2155]", v)
	}
	b := wire.NewBuilder(2)
	b.U16(uint16(int16(v)))
	return Param{Type: protocol.TypeShort, Payload: b.Bytes()}, nil
}

// BindParam encodes a Bit as TypeBlob: MariaDB will not accept TypeBit as
// a bound parameter type and instead wants a blob carrying the same
// big-endian bytes.
func (v Bit) BindParam() (Param, error) {
	b := wire.NewBuilder(len(v) + 9)
	b.LenencString(v)
	return Param{Type: protocol.TypeBlob, Payload: b.Bytes()}, nil
}

// BindParam encodes a JSON value as TypeString: MariaDB will not accept
// TypeJSON as a bound parameter type and instead wants the marshaled text
// sent as a plain string.
func (v JSON) BindParam() (Param, error) {
	var raw []byte
	switch t := v.Value.(type) {
	case nil:
		return Param{IsNull: true, Type: protocol.TypeNull}, nil
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		marshaled, err := json.Marshal(t)
		if err != nil {
			return Param{}, bindErrorf("marshaling JSON argument: %v", err)
		}
		raw = marshaled
	}
	b := wire.NewBuilder(len(raw) + 9)
	b.LenencString(raw)
	return Param{Type: protocol.TypeString, Payload: b.Bytes()}, nil
}

// AsInt8 range-checks v and returns an Int8 binder, or a BindError if v
// does not fit in an int8.
func AsInt8(v int64) (Int8, error) {
	if err := checkedInt64(v, math.MinInt8, math.MaxInt8, "Int8"); err != nil {
		return 0, err
	}
	return Int8(v), nil
}

// AsUint8 range-checks v and returns a Uint8 binder.
func AsUint8(v uint64) (Uint8, error) {
	if err := checkedUint64(v, math.MaxUint8, "Uint8"); err != nil {
		return 0, err
	}
	return Uint8(v), nil
}

// AsInt16 range-checks v and returns an Int16 binder.
func AsInt16(v int64) (Int16, error) {
	if err := checkedInt64(v, math.MinInt16, math.MaxInt16, "Int16"); err != nil {
		return 0, err
	}
	return Int16(v), nil
}

// AsUint16 range-checks v and returns a Uint16 binder.
func AsUint16(v uint64) (Uint16, error) {
	if err := checkedUint64(v, math.MaxUint16, "Uint16"); err != nil {
		return 0, err
	}
	return Uint16(v), nil
}

// AsInt32 range-checks v and returns an Int32 binder.
func AsInt32(v int64) (Int32, error) {
	if err := checkedInt64(v, math.MinInt32, math.MaxInt32, "Int32"); err != nil {
		return 0, err
	}
	return Int32(v), nil
}

// AsUint32 range-checks v and returns a Uint32 binder.
func AsUint32(v uint64) (Uint32, error) {
	if err := checkedUint64(v, math.MaxUint32, "Uint32"); err != nil {
		return 0, err
	}
	return Uint32(v), nil
}
