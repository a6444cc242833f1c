package values

import "strings"

// Expandable is implemented by a bound argument that stands for a list of
// values rather than a single value — spec.md's "list hack". ExpandSQL
// scans the SQL text for the '?' placeholder lining up with such an
// argument and rewrites it into N comma-joined placeholders before the
// statement is ever prepared, so the cache key reflects the expanded
// text rather than the original one-argument form.
type Expandable interface {
	ExpandValues() []any
}

// ExpandSQL rewrites sql and args so that every argument implementing
// Expandable is spliced into its placeholder as a comma-separated list of
// fresh placeholders. changed reports whether any rewriting occurred; a
// caller can use it to skip re-deriving a cache key when nothing moved.
//
// Placeholder scanning skips '?' characters that fall inside a
// single-quoted string, a double-quoted string, or a backtick-quoted
// identifier (with the standard '' / "" / `` doubling escape inside
// each), so a literal '?' in quoted text is never mistaken for a bind
// placeholder.
func ExpandSQL(sql string, args []any) (expandedSQL string, expandedArgs []any, changed bool, err error) {
	var b strings.Builder
	b.Grow(len(sql))
	out := make([]any, 0, len(args))

	argIdx := 0
	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch ch {
		case '\'', '"', '`':
			j := skipQuoted(sql, i, ch)
			b.WriteString(sql[i:j])
			i = j
		case '?':
			if argIdx >= len(args) {
				return "", nil, false, bindErrorf("not enough arguments for placeholders in query")
			}
			arg := args[argIdx]
			argIdx++
			if ex, ok := arg.(Expandable); ok {
				values := ex.ExpandValues()
				if len(values) == 0 {
					return "", nil, false, bindErrorf("list argument expands to zero values")
				}
				b.WriteString(placeholderList(len(values)))
				out = append(out, values...)
				changed = true
			} else {
				b.WriteByte('?')
				out = append(out, arg)
			}
			i++
		default:
			b.WriteByte(ch)
			i++
		}
	}
	if argIdx != len(args) {
		return "", nil, false, bindErrorf("too many arguments for placeholders in query")
	}
	return b.String(), out, changed, nil
}

// skipQuoted returns the index just past the closing quote of a quoted
// run starting at sql[start] (which must equal quote), honoring the
// doubled-quote escape (e.g. '' inside a single-quoted string).
func skipQuoted(sql string, start int, quote byte) int {
	j := start + 1
	for j < len(sql) {
		if sql[j] == quote {
			if j+1 < len(sql) && sql[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		}
		if sql[j] == '\\' && quote != '`' && j+1 < len(sql) {
			j += 2
			continue
		}
		j++
	}
	return j
}

func placeholderList(n int) string {
	var b strings.Builder
	b.Grow(n*2 - 1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('?')
	}
	return b.String()
}

// List wraps a slice of values so it can be bound as a single Execute
// argument that expands to a comma-separated placeholder list, per
// spec.md's list-hack feature — used for "WHERE id IN (?)"-style queries.
type List[T any] struct {
	Values []T
}

// ExpandValues implements Expandable.
func (l List[T]) ExpandValues() []any {
	out := make([]any, len(l.Values))
	for i, v := range l.Values {
		out[i] = v
	}
	return out
}
