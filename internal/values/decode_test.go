package values

import (
	"testing"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/resultset"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

func TestIsNullRespectsOffset(t *testing.T) {
	// column 0 null, column 1 not null: bit (0+2)=2 set, bit (1+2)=3 clear.
	bitmap := []byte{0b00000100}
	if !IsNull(bitmap, 0) {
		t.Fatal("expected column 0 to be null")
	}
	if IsNull(bitmap, 1) {
		t.Fatal("expected column 1 to be non-null")
	}
}

func TestNullBitmapLen(t *testing.T) {
	if got := NullBitmapLen(1); got != 1 {
		t.Fatalf("NullBitmapLen(1) = %d, want 1", got)
	}
	if got := NullBitmapLen(7); got != 2 {
		t.Fatalf("NullBitmapLen(7) = %d, want 2", got)
	}
}

func TestDecoderInt64SignedTiny(t *testing.T) {
	col := resultset.ColumnDef{Name: "c", Type: protocol.TypeTiny}
	r := wire.NewReader([]byte{0xFE}) // -2 as int8
	v, err := NewDecoder(r, col).Int64()
	if err != nil {
		t.Fatal(err)
	}
	if v != -2 {
		t.Fatalf("got %d, want -2", v)
	}
}

func TestDecoderInt64UnsignedLongLongOverflow(t *testing.T) {
	col := resultset.ColumnDef{Name: "c", Type: protocol.TypeLongLong, Flags: protocol.FlagUnsigned}
	b := wire.NewBuilder(8)
	b.U64(1 << 63)
	r := wire.NewReader(b.Bytes())
	if _, err := NewDecoder(r, col).Int64(); err == nil {
		t.Fatal("expected a DecodeError for an unsigned value overflowing int64")
	}
}

func TestDecoderRejectsWrongType(t *testing.T) {
	col := resultset.ColumnDef{Name: "c", Type: protocol.TypeVarString}
	r := wire.NewReader([]byte{0})
	if _, err := NewDecoder(r, col).Int64(); err == nil {
		t.Fatal("expected a DecodeError for a string column decoded as int64")
	}
}

func TestDecoderStringRoundtrip(t *testing.T) {
	col := resultset.ColumnDef{Name: "c", Type: protocol.TypeVarString}
	b := wire.NewBuilder(0)
	b.LenencString([]byte("hello"))
	r := wire.NewReader(b.Bytes())
	s, err := NewDecoder(r, col).String()
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello" {
		t.Fatalf("got %q, want hello", s)
	}
}

func TestDecoderBool(t *testing.T) {
	col := resultset.ColumnDef{Name: "c", Type: protocol.TypeTiny}
	r := wire.NewReader([]byte{1})
	v, err := NewDecoder(r, col).Bool()
	if err != nil {
		t.Fatal(err)
	}
	if !v {
		t.Fatal("expected true")
	}
}
