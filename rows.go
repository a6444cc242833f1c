package mysqlx

import (
	"time"

	"github.com/dbbouncer/mysqlx/internal/connio"
)

// Rows streams a query's result set, mirroring database/sql.Rows: call
// Next before the first Scan, keep calling Next until it returns false,
// then check Err, and always Close (directly, or implicitly by draining
// to exhaustion) to release the backing connection.
type Rows struct {
	conn         *connio.Conn
	inner        *connio.Rows
	exhausted    bool
	execResult   *connio.ExecResult
	closed       bool
	onClose      func()
	current      *Row
	err          error
	cleanTimeout time.Duration
}

// Next advances to the next row, returning false at the end of the
// result set (whether cleanly or due to an error — check Err to tell
// them apart) or once the Rows has been closed.
func (r *Rows) Next() bool {
	if r.closed || r.err != nil || r.exhausted {
		r.finish()
		return false
	}
	if !r.inner.Next() {
		r.exhausted = true
		if err := r.inner.Err(); err != nil {
			r.err = translateError(err)
		}
		r.finish()
		return false
	}
	row, err := newRow(r.inner.Row())
	if err != nil {
		r.err = err
		r.exhausted = true
		r.finish()
		return false
	}
	r.current = row
	return true
}

// Row returns the row last yielded by Next, decoded lazily per column on
// access through its typed accessor methods.
func (r *Rows) Row() *Row { return r.current }

// Err returns the error, if any, that stopped iteration.
func (r *Rows) Err() error { return r.err }

// Columns returns the names of the result set's columns, in order.
func (r *Rows) Columns() []string {
	if r.inner == nil {
		return nil
	}
	cols := r.inner.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Close releases the connection backing this Rows. It is safe to call
// more than once, and safe to call after Next has already returned false.
// Any rows not yet consumed are discarded.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	if r.inner != nil && !r.exhausted {
		if err := r.conn.AbandonStreaming(r.inner, r.cleanTimeout); err != nil {
			r.finish()
			return translateError(err)
		}
	}
	r.finish()
	return nil
}

// finish marks the Rows closed and releases the backing connection
// exactly once, whether reached via exhaustion in Next or an explicit
// Close.
func (r *Rows) finish() {
	if r.closed {
		return
	}
	r.closed = true
	if r.inner != nil && r.exhausted {
		_ = r.conn.FinishStreaming(r.inner)
	}
	if r.onClose != nil {
		r.onClose()
	}
}
