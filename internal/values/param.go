// Package values implements the binary-protocol bind/decode codecs
// described in spec.md section 4.2: typed encoding of bound STMT_EXECUTE
// parameters and typed decoding of binary result-set columns.
package values

import (
	"fmt"
	"math"
	"time"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// Param is one bound STMT_EXECUTE parameter: the (type, unsigned) pair the
// protocol wants in the parameter-type block, plus the already-encoded
// payload bytes (absent entirely when IsNull).
type Param struct {
	Type     protocol.ColumnType
	Unsigned bool
	IsNull   bool
	Payload  []byte
}

// BindError reports a parameter that could not be bound: the wrong number
// of arguments, or an integer value too wide for the target type.
type BindError struct {
	Msg string
}

func (e *BindError) Error() string { return "mysqlx: bind: " + e.Msg }

func bindErrorf(format string, a ...any) error {
	return &BindError{Msg: fmt.Sprintf(format, a...)}
}

// Binder is implemented by values that know how to encode themselves as a
// STMT_EXECUTE parameter. Plain Go types (ints, strings, []byte, bool,
// float32/64, time.Time, nil) are handled by ToParam without requiring
// the caller to implement this; Binder exists for the explicit narrow
// wrapper types (Int8, Uint16, Year, Bit, JSON, ...) that need to declare
// a specific wire type distinct from their natural Go type.
type Binder interface {
	BindParam() (Param, error)
}

// ToParam converts a Go value bound as an Execute argument into a wire
// Param. It accepts anything implementing Binder directly; otherwise it
// maps common Go types onto their natural MySQL wire representation.
func ToParam(arg any) (Param, error) {
	if arg == nil {
		return Param{IsNull: true, Type: protocol.TypeNull}, nil
	}
	if b, ok := arg.(Binder); ok {
		return b.BindParam()
	}

	switch v := arg.(type) {
	case bool:
		return boolParam(v), nil
	case int:
		return int64Param(int64(v)), nil
	case int8:
		return int64Param(int64(v)), nil
	case int16:
		return int64Param(int64(v)), nil
	case int32:
		return int64Param(int64(v)), nil
	case int64:
		return int64Param(v), nil
	case uint:
		return uint64Param(uint64(v)), nil
	case uint8:
		return uint64Param(uint64(v)), nil
	case uint16:
		return uint64Param(uint64(v)), nil
	case uint32:
		return uint64Param(uint64(v)), nil
	case uint64:
		return uint64Param(v), nil
	case float32:
		return floatParam(v), nil
	case float64:
		return doubleParam(v), nil
	case string:
		return stringParam(v), nil
	case []byte:
		if v == nil {
			return Param{IsNull: true, Type: protocol.TypeNull}, nil
		}
		return blobParam(v), nil
	case time.Time:
		return timeParam(v), nil
	default:
		return Param{}, bindErrorf("unsupported argument type %T", arg)
	}
}

func boolParam(v bool) Param {
	b := byte(0)
	if v {
		b = 1
	}
	return Param{Type: protocol.TypeTiny, Payload: []byte{b}}
}

func int64Param(v int64) Param {
	buf := wire.NewBuilder(8)
	buf.U64(uint64(v))
	return Param{Type: protocol.TypeLongLong, Unsigned: false, Payload: buf.Bytes()}
}

func uint64Param(v uint64) Param {
	buf := wire.NewBuilder(8)
	buf.U64(v)
	return Param{Type: protocol.TypeLongLong, Unsigned: true, Payload: buf.Bytes()}
}

func floatParam(v float32) Param {
	buf := wire.NewBuilder(4)
	buf.U32(math.Float32bits(v))
	return Param{Type: protocol.TypeFloat, Payload: buf.Bytes()}
}

func doubleParam(v float64) Param {
	buf := wire.NewBuilder(8)
	buf.U64(math.Float64bits(v))
	return Param{Type: protocol.TypeDouble, Payload: buf.Bytes()}
}

func stringParam(v string) Param {
	buf := wire.NewBuilder(len(v) + 9)
	buf.LenencString([]byte(v))
	return Param{Type: protocol.TypeVarString, Payload: buf.Bytes()}
}

func blobParam(v []byte) Param {
	buf := wire.NewBuilder(len(v) + 9)
	buf.LenencString(v)
	return Param{Type: protocol.TypeBlob, Payload: buf.Bytes()}
}

func timeParam(v time.Time) Param {
	return Param{Type: protocol.TypeDatetime, Payload: EncodeDatetime(v)}
}

// checkedInt64 range-checks v against [min, max], returning a BindError
// naming typeName on overflow. Used by the narrow explicit wrapper types
// (Int8, Int16, ...) so out-of-range values are rejected at bind time
// rather than silently truncated, per spec.md testable property 1.
func checkedInt64(v int64, min, max int64, typeName string) error {
	if v < min || v > max {
		return bindErrorf("value %d does not fit in %s (range [%d, %d])", v, typeName, min, max)
	}
	return nil
}

func checkedUint64(v uint64, max uint64, typeName string) error {
	if v > max {
		return bindErrorf("value %d does not fit in %s (range [0, %d])", v, typeName, max)
	}
	return nil
}
