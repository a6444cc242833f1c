package connio

import (
	"fmt"
	"time"
)

// ServerError wraps an ERR_Packet the server sent in response to a
// command. Per spec.md section 8, a ServerError does not by itself mark
// the connection not-clean — the command completed, the server merely
// rejected it.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "mysqlx: server error: " + e.Message }

// NotCleanError marks a connection that cannot be trusted to return to
// the pool: a transaction left open, a result set left undrained, or a
// protocol-level error that desynchronized the sequence counter.
type NotCleanError struct {
	Reason string
}

func (e *NotCleanError) Error() string { return "mysqlx: connection not clean: " + e.Reason }

// CleanupTimeoutError reports that a connection's background drain (used
// to return it to the pool while a caller abandons a streaming result)
// did not finish within its deadline and the connection was dropped.
type CleanupTimeoutError struct {
	Elapsed time.Duration
}

func (e *CleanupTimeoutError) Error() string {
	return fmt.Sprintf("mysqlx: cleanup timed out after %s", e.Elapsed)
}
