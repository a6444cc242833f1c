// Package stmtcache implements the bounded, insertion-order-aware map
// from SQL text to server-side prepared-statement handles described in
// spec.md section 4.3. It wraps hashicorp/golang-lru's simplelru.LRU,
// which already provides the O(1) hashmap-plus-intrusive-list structure
// spec.md section 9 sketches as "an arena of node indices" — and adds the
// one piece simplelru doesn't give you for free: handing the evicted
// entry back to the caller so its server-side statement id can be
// released with STMT_CLOSE.
package stmtcache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/dbbouncer/mysqlx/internal/resultset"
)

// MinCapacity is the smallest configurable cache capacity. Construction
// with a smaller capacity is an error, per spec.md invariant L4.
const MinCapacity = 2

// PreparedStatement is the server-side handle cached under its SQL text,
// per spec.md section 3 (PreparedStatement).
type PreparedStatement struct {
	SQL        string
	ID         uint32
	ParamCount uint16
	Params     []resultset.ColumnDef
	Columns    []resultset.ColumnDef
}

// Evicted is the entry yielded to the caller when an Insert displaces the
// least-recently-used statement. The caller must send STMT_CLOSE for
// Stmt.ID before the connection can be considered clean again.
type Evicted struct {
	Key  string
	Stmt *PreparedStatement
}

// Cache is the statement cache owned exclusively by one connection — spec
// section 5 notes concurrent access is precluded by the
// single-command-per-connection rule, so Cache takes no lock of its own.
type Cache struct {
	lru     *lru.LRU[string, *PreparedStatement]
	pending *Evicted
}

// New constructs a Cache with the given capacity. Capacity below
// MinCapacity is a construction error (invariant L4).
func New(capacity int) (*Cache, error) {
	if capacity < MinCapacity {
		return nil, fmt.Errorf("stmtcache: capacity %d below minimum %d", capacity, MinCapacity)
	}
	c := &Cache{}
	l, err := lru.NewLRU(capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("stmtcache: %w", err)
	}
	c.lru = l
	return c, nil
}

func (c *Cache) onEvict(key string, stmt *PreparedStatement) {
	c.pending = &Evicted{Key: key, Stmt: stmt}
}

// Lookup reports a cache hit or miss for key. On a hit, the entry is
// moved to the front of the usage order (invariant L2) and its statement
// is returned. This plays the role of the Occupied arm of spec.md's
// entry(key) contract — bump and get are combined into one call because
// every call site immediately re-executes the statement it looked up.
func (c *Cache) Lookup(key string) (*PreparedStatement, bool) {
	return c.lru.Get(key)
}

// Insert adds stmt under key. If the cache was already at capacity, the
// least-recently-used entry is evicted and returned (nil when nothing was
// evicted); the caller must release its statement id via STMT_CLOSE. Insert never
// grows the cache past its configured capacity (invariant L1).
func (c *Cache) Insert(key string, stmt *PreparedStatement) (evicted *Evicted) {
	c.pending = nil
	c.lru.Add(key, stmt)
	evicted, c.pending = c.pending, nil
	return evicted
}

// Remove drops key unconditionally, e.g. when the connection is closing
// and every cached statement must be released.
func (c *Cache) Remove(key string) (*PreparedStatement, bool) {
	return c.lru.Remove(key)
}

// Len returns the number of cached statements.
func (c *Cache) Len() int { return c.lru.Len() }

// Keys returns the cached keys ordered from least- to most-recently used.
func (c *Cache) Keys() []string { return c.lru.Keys() }

// Purge removes every entry and returns them so the caller can release
// each statement id, e.g. when the connection is shutting down.
func (c *Cache) Purge() []Evicted {
	keys := c.lru.Keys()
	out := make([]Evicted, 0, len(keys))
	for _, k := range keys {
		if stmt, ok := c.lru.Remove(k); ok {
			out = append(out, Evicted{Key: k, Stmt: stmt})
		}
	}
	return out
}
