package stmtcache

import "testing"

func TestNewRejectsBelowMinCapacity(t *testing.T) {
	if _, err := New(1); err == nil {
		t.Fatal("expected an error for capacity below MinCapacity")
	}
	if _, err := New(0); err == nil {
		t.Fatal("expected an error for capacity 0")
	}
}

func TestCacheSizeNeverExceedsCapacity(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatal(err)
	}

	keys := []string{"A", "B", "C", "D", "E"}
	for i, k := range keys {
		c.Insert(k, &PreparedStatement{SQL: k, ID: uint32(i)})
		if c.Len() > 2 {
			t.Fatalf("after inserting %q: size %d exceeds capacity", k, c.Len())
		}
	}
	if c.Len() != 2 {
		t.Fatalf("final size = %d, want 2", c.Len())
	}
}

func TestInsertEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatal(err)
	}

	c.Insert("A", &PreparedStatement{SQL: "A", ID: 1})
	c.Insert("B", &PreparedStatement{SQL: "B", ID: 2})

	// Without touching A, inserting C should evict A (the LRU entry).
	evicted := c.Insert("C", &PreparedStatement{SQL: "C", ID: 3})
	if evicted == nil {
		t.Fatal("expected an eviction")
	}
	if evicted.Key != "A" {
		t.Fatalf("evicted %q, want A", evicted.Key)
	}
	if evicted.Stmt.ID != 1 {
		t.Fatalf("evicted statement id %d, want 1", evicted.Stmt.ID)
	}

	if _, ok := c.Lookup("A"); ok {
		t.Fatal("A should have been evicted")
	}
	if _, ok := c.Lookup("B"); !ok {
		t.Fatal("B should still be cached")
	}
}

func TestBumpYieldsPureLRU(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatal(err)
	}

	c.Insert("A", &PreparedStatement{SQL: "A", ID: 1})
	c.Insert("B", &PreparedStatement{SQL: "B", ID: 2})

	// Touch A so B becomes the least-recently-used entry.
	if _, ok := c.Lookup("A"); !ok {
		t.Fatal("expected A to be present")
	}

	evicted := c.Insert("C", &PreparedStatement{SQL: "C", ID: 3})
	if evicted == nil || evicted.Key != "B" {
		t.Fatalf("expected B to be evicted after bumping A, got %+v", evicted)
	}
}

func TestInsertWithoutBumpIsPureInsertionOrder(t *testing.T) {
	c, err := New(3)
	if err != nil {
		t.Fatal(err)
	}

	c.Insert("A", &PreparedStatement{SQL: "A", ID: 1})
	c.Insert("B", &PreparedStatement{SQL: "B", ID: 2})
	c.Insert("C", &PreparedStatement{SQL: "C", ID: 3})

	// No lookups happened, so insertion order alone determines eviction:
	// the oldest inserted key (A) goes first.
	evicted := c.Insert("D", &PreparedStatement{SQL: "D", ID: 4})
	if evicted == nil || evicted.Key != "A" {
		t.Fatalf("expected A evicted under pure insertion order, got %+v", evicted)
	}
}

func TestPurgeReturnsEveryEntry(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	c.Insert("A", &PreparedStatement{SQL: "A", ID: 1})
	c.Insert("B", &PreparedStatement{SQL: "B", ID: 2})

	evicted := c.Purge()
	if len(evicted) != 2 {
		t.Fatalf("Purge returned %d entries, want 2", len(evicted))
	}
	if c.Len() != 0 {
		t.Fatalf("cache not empty after Purge: %d", c.Len())
	}
}
