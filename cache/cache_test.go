package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestTTL_SetGet(t *testing.T) {
	c, err := NewTTL[int64](100)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer c.Close()

	c.Set("bttlrs", 12, time.Minute)

	got, ok := c.Get("bttlrs")
	if !ok {
		t.Errorf("Get returned ok=false, want true")
	}
	if got != 12 {
		t.Errorf("Get = %d, want 12", got)
	}

	c.Delete("bttlrs")
	if _, ok := c.Get("bttlrs"); ok {
		t.Errorf("Get after Delete should return ok=false")
	}
}

func TestTTL_GetOrLoad(t *testing.T) {
	c, err := NewTTL[int64](100)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer c.Close()

	loads := 0
	load := func() (int64, error) {
		loads++
		return 5, nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("stores", time.Minute, load)
		if err != nil || v != 5 {
			t.Fatalf("GetOrLoad = %d, %v", v, err)
		}
	}
	if loads != 1 {
		t.Errorf("Expected 1 load, got %d", loads)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("missing", time.Minute, func() (int64, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("Expected load error, got %v", err)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Failed loads must not be cached")
	}

	c.Clear()
	if _, ok := c.Get("stores"); ok {
		t.Error("Expected empty cache after Clear")
	}
}

func setupLookupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	db.MustExec(`CREATE TABLE bttlrs (primarykey INTEGER PRIMARY KEY, name TEXT)`)
	db.MustExec(`INSERT INTO bttlrs VALUES (2, 'Beta'), (1, 'Alpha'), (3, 'Gamma')`)
	return db
}

func nameFinder(ctx context.Context, q sqlx.QueryerContext) (*orderedmap.OrderedMap[string, int64], error) {
	rows, err := q.QueryxContext(ctx, "SELECT primarykey, name FROM bttlrs ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := orderedmap.New[string, int64]()
	for rows.Next() {
		var key int64
		var name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, err
		}
		out.Set(name, key)
	}
	return out, rows.Err()
}

func TestReadThrough_ImplicitLoad(t *testing.T) {
	db := setupLookupDB(t)
	ctx := context.Background()

	opened := 0
	open := func(ctx context.Context) (*sqlx.Conn, error) {
		opened++
		return db.Connx(ctx)
	}
	c := NewReadThrough("bottlers", open, nameFinder)

	if s := c.Status(); s.Loaded {
		t.Fatal("Status must not trigger a load")
	}

	snap := c.Get(ctx)
	if snap == nil {
		t.Fatalf("Expected snapshot, last error %v", c.LastError())
	}
	var names []string
	for pair := snap.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	if len(names) != 3 || names[0] != "Alpha" || names[2] != "Gamma" {
		t.Errorf("Expected query order, got %v", names)
	}

	c.Get(ctx)
	if opened != 1 {
		t.Errorf("Expected one implicit load, got %d", opened)
	}

	if key, ok := c.Lookup(ctx, "Beta"); !ok || key != 2 {
		t.Errorf("Lookup(Beta) = %d, %v", key, ok)
	}

	// The connection was released, so the single pooled connection is free
	if err := db.PingContext(ctx); err != nil {
		t.Errorf("Ping after reload: %v", err)
	}
}

func TestReadThrough_ReloadWithSuppliedQuerier(t *testing.T) {
	db := setupLookupDB(t)
	ctx := context.Background()

	open := func(ctx context.Context) (*sqlx.Conn, error) {
		t.Error("Opener must not be used when a querier is supplied")
		return db.Connx(ctx)
	}
	c := NewReadThrough("bottlers", open, nameFinder)
	c.Reload(ctx, db)

	db.MustExec(`INSERT INTO bttlrs VALUES (4, 'Delta')`)
	before := c.Get(ctx)
	if before.Len() != 3 {
		t.Errorf("Expected stale snapshot of 3 until reload, got %d", before.Len())
	}

	c.Reload(ctx, db)
	if c.Get(ctx).Len() != 4 {
		t.Errorf("Expected 4 entries after reload, got %d", c.Get(ctx).Len())
	}
	if before.Len() != 3 {
		t.Error("A replaced snapshot must not change")
	}
}

func TestReadThrough_FailedReloadKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("table locked")

	var fail atomic.Bool
	find := func(ctx context.Context, q sqlx.QueryerContext) (*orderedmap.OrderedMap[string, int64], error) {
		if fail.Load() {
			return nil, boom
		}
		m := orderedmap.New[string, int64]()
		m.Set("Alpha", 1)
		return m, nil
	}
	open := func(ctx context.Context) (*sqlx.Conn, error) {
		return nil, errors.New("no connection")
	}

	// Never loaded: the failure leaves the snapshot nil
	fail.Store(true)
	c := NewReadThrough("bottlers", open, find)
	c.Reload(ctx, &sqlx.DB{})
	if c.Get(ctx) != nil {
		t.Error("Expected nil snapshot after a failed first load")
	}
	if !errors.Is(c.LastError(), boom) {
		t.Errorf("Expected last error %v, got %v", boom, c.LastError())
	}

	fail.Store(false)
	c.Reload(ctx, &sqlx.DB{})
	if c.Get(ctx) == nil || c.LastError() != nil {
		t.Fatal("Expected snapshot after a successful reload")
	}

	// Loaded: the failure keeps the previous snapshot
	fail.Store(true)
	c.Reload(ctx, &sqlx.DB{})
	snap := c.Get(ctx)
	if snap == nil || snap.Len() != 1 {
		t.Errorf("Expected previous snapshot to survive, got %v", snap)
	}
	if s := c.Status(); !s.Loaded || s.LastError == "" {
		t.Errorf("Unexpected status %+v", s)
	}
}

func TestReadThrough_OpenerFailure(t *testing.T) {
	ctx := context.Background()
	find := func(ctx context.Context, q sqlx.QueryerContext) (*orderedmap.OrderedMap[string, int64], error) {
		t.Error("Finder must not run without a connection")
		return nil, nil
	}
	open := func(ctx context.Context) (*sqlx.Conn, error) {
		return nil, errors.New("pool exhausted")
	}

	c := NewReadThrough("stores", open, find)
	if c.Get(ctx) != nil {
		t.Error("Expected nil snapshot")
	}
	if c.LastError() == nil {
		t.Error("Expected opener error to be recorded")
	}
}

func TestReadThrough_ConcurrentFirstGet(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	find := func(ctx context.Context, q sqlx.QueryerContext) (*orderedmap.OrderedMap[string, int64], error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return orderedmap.New[string, int64](), nil
	}
	db := setupLookupDB(t)
	open := func(ctx context.Context) (*sqlx.Conn, error) { return db.Connx(ctx) }
	c := NewReadThrough("bottlers", open, find)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(ctx)
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected one coalesced load, got %d", calls.Load())
	}
}

func TestRegistry(t *testing.T) {
	db := setupLookupDB(t)
	ctx := context.Background()
	open := func(ctx context.Context) (*sqlx.Conn, error) { return db.Connx(ctx) }

	var r Registry
	r.Add(NewReadThrough("a", open, nameFinder))
	r.Add(NewReadThrough("b", open, nameFinder))

	r.ReloadAll(ctx, db)

	statuses := r.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Expected 2 statuses, got %d", len(statuses))
	}
	for _, s := range statuses {
		if !s.Loaded || s.Entries != 3 {
			t.Errorf("Unexpected status %+v", s)
		}
	}
}
