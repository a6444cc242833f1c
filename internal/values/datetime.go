package values

import (
	"time"

	"github.com/dbbouncer/mysqlx/internal/wire"
)

// EncodeDatetime packs v using the variable-width binary DATE/DATETIME
// encoding described in spec.md section 4.2: a leading length byte of 0,
// 4, 7 or 11 followed by that many fields. The zero value of time.Time
// (year 1, UTC midnight) encodes as length 0, matching a zero MySQL date.
func EncodeDatetime(v time.Time) []byte {
	year, month, day := v.Year(), v.Month(), v.Day()
	hour, min, sec := v.Hour(), v.Minute(), v.Second()
	micro := v.Nanosecond() / 1000

	var length byte
	switch {
	case hour == 0 && min == 0 && sec == 0 && micro == 0:
		if v.IsZero() {
			length = 0
		} else {
			length = 4
		}
	case micro == 0:
		length = 7
	default:
		length = 11
	}

	b := wire.NewBuilder(int(length) + 1)
	b.U8(length)
	if length >= 4 {
		b.U16(uint16(year)).U8(byte(month)).U8(byte(day))
	}
	if length >= 7 {
		b.U8(byte(hour)).U8(byte(min)).U8(byte(sec))
	}
	if length == 11 {
		b.U32(uint32(micro))
	}
	return b.Bytes()
}

// DecodeDatetime unpacks a binary DATE/DATETIME/TIMESTAMP value from r,
// which must be positioned at the leading length byte.
func DecodeDatetime(r *wire.Reader) (time.Time, error) {
	length, err := r.U8()
	if err != nil {
		return time.Time{}, err
	}
	var year int
	var month time.Month
	var day, hour, min, sec int
	var micro int

	if length >= 4 {
		y, err := r.U16()
		if err != nil {
			return time.Time{}, err
		}
		m, err := r.U8()
		if err != nil {
			return time.Time{}, err
		}
		d, err := r.U8()
		if err != nil {
			return time.Time{}, err
		}
		year, month, day = int(y), time.Month(m), int(d)
	}
	if length >= 7 {
		h, err := r.U8()
		if err != nil {
			return time.Time{}, err
		}
		mi, err := r.U8()
		if err != nil {
			return time.Time{}, err
		}
		s, err := r.U8()
		if err != nil {
			return time.Time{}, err
		}
		hour, min, sec = int(h), int(mi), int(s)
	}
	if length >= 11 {
		us, err := r.U32()
		if err != nil {
			return time.Time{}, err
		}
		micro = int(us)
	}
	return time.Date(year, month, day, hour, min, sec, micro*1000, time.UTC), nil
}

// EncodeTime packs d using the variable-width binary TIME encoding: a
// leading length byte of 0, 8 or 12, a sign byte, then days/hours/
// minutes/seconds and an optional microseconds field.
func EncodeTime(d time.Duration) []byte {
	neg := byte(0)
	if d < 0 {
		neg = 1
		d = -d
	}

	days := uint32(d / (24 * time.Hour))
	d %= 24 * time.Hour
	hours := byte(d / time.Hour)
	d %= time.Hour
	mins := byte(d / time.Minute)
	d %= time.Minute
	secs := byte(d / time.Second)
	d %= time.Second
	micros := uint32(d / time.Microsecond)

	var length byte
	switch {
	case days == 0 && hours == 0 && mins == 0 && secs == 0 && micros == 0:
		length = 0
	case micros == 0:
		length = 8
	default:
		length = 12
	}

	b := wire.NewBuilder(int(length) + 1)
	b.U8(length)
	if length == 0 {
		return b.Bytes()
	}
	b.U8(neg)
	b.U32(days).U8(hours).U8(mins).U8(secs)
	if length == 12 {
		b.U32(micros)
	}
	return b.Bytes()
}

// DecodeTime unpacks a binary TIME value from r, which must be positioned
// at the leading length byte.
func DecodeTime(r *wire.Reader) (time.Duration, error) {
	length, err := r.U8()
	if err != nil {
		return 0, err
	}
	if length == 0 {
		return 0, nil
	}
	signByte, err := r.U8()
	if err != nil {
		return 0, err
	}
	days, err := r.U32()
	if err != nil {
		return 0, err
	}
	hours, err := r.U8()
	if err != nil {
		return 0, err
	}
	mins, err := r.U8()
	if err != nil {
		return 0, err
	}
	secs, err := r.U8()
	if err != nil {
		return 0, err
	}
	var micros uint32
	if length == 12 {
		micros, err = r.U32()
		if err != nil {
			return 0, err
		}
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second +
		time.Duration(micros)*time.Microsecond
	if signByte == 1 {
		d = -d
	}
	return d, nil
}
