package mysqlx

import (
	"errors"
	"fmt"

	"github.com/dbbouncer/mysqlx/internal/connio"
	"github.com/dbbouncer/mysqlx/internal/values"
)

// ErrTooManyRows is returned by FetchOne/FetchOptional when a query meant
// to yield at most one row produced a second.
var ErrTooManyRows = errors.New("mysqlx: query returned more than one row")

// ErrNoRows is returned by FetchOne when a query produced no rows.
var ErrNoRows = errors.New("mysqlx: query returned no rows")

// ServerError reports an ERR_Packet the server sent in response to a
// command. It does not by itself mean the connection is unusable — the
// command was rejected, not the connection desynchronized. Use errors.As
// to retrieve one from an error returned by Execute or Fetch.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "mysqlx: server error: " + e.Message }

// BindError reports an Execute/Fetch argument that could not be encoded
// as a bound parameter: the wrong argument count, or a value out of range
// for the wire type it was bound as.
type BindError struct {
	Msg string
}

func (e *BindError) Error() string { return "mysqlx: bind: " + e.Msg }

// DecodeError reports a result column that a RowScanner could not decode
// into the Go type it asked for.
type DecodeError struct {
	Column string
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mysqlx: decode column %q: %s", e.Column, e.Msg)
}

// translateError maps an internal/connio or internal/values error onto
// this package's exported error types, so callers can use errors.As/
// errors.Is against the public API without reaching into internal
// packages. Errors with no public equivalent (context cancellation, pool
// errors) pass through unchanged, already satisfying errors.Is on their
// own sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var serverErr *connio.ServerError
	if errors.As(err, &serverErr) {
		return &ServerError{Message: serverErr.Message}
	}
	var bindErr *values.BindError
	if errors.As(err, &bindErr) {
		return &BindError{Msg: bindErr.Msg}
	}
	var decodeErr *values.DecodeError
	if errors.As(err, &decodeErr) {
		return &DecodeError{Column: decodeErr.Column, Msg: decodeErr.Msg}
	}
	return err
}
