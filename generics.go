package mysqlx

import (
	"context"
	"errors"
)

// RowScanner is implemented by a pointer type *T that knows how to
// populate a T from one query result row. FetchAll/FetchOne/FetchOptional
// use the "pointer implements interface" trick (PT RowScanner[T]) so
// callers write FetchAll[User](...) against a plain value type User while
// only *User needs the ScanMySQLRow method.
type RowScanner[T any] interface {
	*T
	ScanMySQLRow(row *Row) error
}

// FetchAll runs query and scans every row into a T, using PT's
// ScanMySQLRow method. The result is empty, not nil-vs-empty significant,
// when the query matches no rows.
func FetchAll[T any, PT RowScanner[T]](ctx context.Context, q Queryer, query string, args ...any) ([]T, error) {
	rows, err := q.Fetch(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var v T
		if err := PT(&v).ScanMySQLRow(rows.Row()); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchOne runs query and scans exactly one row into a T. It returns
// ErrNoRows if the query matched nothing, and ErrTooManyRows if it
// matched more than one row — confirmed by reading one row past the
// first before reporting success, not merely discarding the rest.
func FetchOne[T any, PT RowScanner[T]](ctx context.Context, q Queryer, query string, args ...any) (T, error) {
	var zero T
	rows, err := q.Fetch(ctx, query, args...)
	if err != nil {
		return zero, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, err
		}
		return zero, ErrNoRows
	}

	var v T
	if err := PT(&v).ScanMySQLRow(rows.Row()); err != nil {
		return zero, err
	}

	if rows.Next() {
		return zero, ErrTooManyRows
	}
	if err := rows.Err(); err != nil {
		return zero, err
	}
	return v, nil
}

// FetchOptional is FetchOne, except a query matching no rows returns a
// nil *T and a nil error instead of ErrNoRows.
func FetchOptional[T any, PT RowScanner[T]](ctx context.Context, q Queryer, query string, args ...any) (*T, error) {
	v, err := FetchOne[T, PT](ctx, q, query, args...)
	if errors.Is(err, ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
