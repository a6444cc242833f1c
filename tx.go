package mysqlx

import (
	"context"
	"fmt"
)

// Tx is a transaction opened on one connection checked out from a DB's
// pool. The connection is held for the whole transaction and only
// returned to the pool by Commit or Rollback.
type Tx struct {
	conn *Conn
	done bool
}

// Execute implements Queryer.
func (tx *Tx) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	if tx.done {
		return Result{}, fmt.Errorf("mysqlx: transaction already committed or rolled back")
	}
	return execute(ctx, tx.conn.raw, query, args, tx.conn.db.opts.cleanTimeout())
}

// Fetch implements Queryer.
func (tx *Tx) Fetch(ctx context.Context, query string, args ...any) (*Rows, error) {
	if tx.done {
		return nil, fmt.Errorf("mysqlx: transaction already committed or rolled back")
	}
	return fetch(ctx, tx.conn.raw, query, args, tx.conn.db.opts.cleanTimeout())
}

// Commit issues COMMIT and returns the connection to the pool.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("mysqlx: transaction already committed or rolled back")
	}
	tx.done = true
	defer tx.conn.Release()
	err := translateError(tx.conn.raw.Commit())
	if m := tx.conn.db.metricsCollector(); m != nil && err == nil {
		m.TransactionCompleted("commit")
	}
	return err
}

// Rollback issues ROLLBACK and returns the connection to the pool. It is
// safe to call after Commit has already succeeded — it becomes a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	defer tx.conn.Release()
	err := translateError(tx.conn.raw.Rollback())
	if m := tx.conn.db.metricsCollector(); m != nil && err == nil {
		m.TransactionCompleted("rollback")
	}
	return err
}
