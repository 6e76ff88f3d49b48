package upload

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mevdschee/stockbatch/cache"
	"github.com/mevdschee/stockbatch/entity"
	"github.com/mevdschee/stockbatch/keyalloc"
	"github.com/mevdschee/stockbatch/persistence"
	"github.com/mevdschee/stockbatch/replica"
	"github.com/mevdschee/stockbatch/writebatch"
)

const testFixture = `
bottlers:
  - name: Acme Bottling
    branches:
      - name: Acme North
        stores: [101, 102]
      - name: Acme South
        stores: [103]
districts:
  - id: 7
    name: Bay Area
    code: BA
    stores: [101, 103]
stores:
  - {id: 101, name: Main St, city: Oakland, state: CA}
  - {id: 102, name: Harbor, city: Alameda, state: CA}
  - {id: 103, name: Hilltop, city: Berkeley, state: CA}
categories:
  - {id: 1, name: Soda}
`

func setupUpload(t *testing.T) (*persistence.Manager, *sqlx.DB) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "upload.db") + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if err := persistence.ApplySchema(context.Background(), db, persistence.SQLiteSchema); err != nil {
		t.Fatal(err)
	}

	// Wired the same way as the command does for sqlite3
	keys := keyalloc.New(keyalloc.NewSQLSequence(db, keyalloc.SQLiteSequenceQuery), keyalloc.DefaultIncrement)
	m, err := persistence.New(replica.NewPool(db), keys, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return m, db
}

func sequenceValue(t *testing.T, db *sqlx.DB) int64 {
	t.Helper()
	var v int64
	if err := db.Get(&v, "SELECT v FROM pkgenerator"); err != nil {
		t.Fatal(err)
	}
	return v
}

func count(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	if err := db.Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatal(err)
	}
	return n
}

func applyFixture(t *testing.T, m *persistence.Manager, opts Options, data string) error {
	t.Helper()
	f, err := ParseFixture([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return Run(context.Background(), m, opts, func(ctx context.Context, job *Job) error {
		return f.Apply(ctx, job)
	})
}

func TestRun_AppliesFixture(t *testing.T) {
	m, db := setupUpload(t)

	// A small threshold makes mapping batches flush while entity rows are
	// still pending, so referential order depends on the priority cascade.
	opts := Options{Batch: writebatch.Config{Threshold: 2, AutoTrigger: true, CheckAutoTriggerFailures: true}}
	if err := applyFixture(t, m, opts, testFixture); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]int{
		"bttlrs":              1,
		"bttlrbrchs":          2,
		"stores":              3,
		"dstbdstrcts":         1,
		"prdctctgrs":          1,
		"bttlrstobttlrbrchs":  2,
		"bttlrbrchstostores":  3,
		"dstbdstrctstostores": 2,
	}
	for table, n := range want {
		if got := count(t, db, table); got != n {
			t.Errorf("%s: expected %d rows, got %d", table, n, got)
		}
	}

	if v := sequenceValue(t, db); v != keyalloc.DefaultIncrement {
		t.Errorf("Expected one key range reserved inside the upload, counter at %d", v)
	}
	var lowest int64
	db.Get(&lowest, "SELECT MIN(primarykey) FROM stores")
	if lowest < keyalloc.DefaultIncrement {
		t.Errorf("Expected keys from the reserved range, got %d", lowest)
	}

	var orphans int
	db.Get(&orphans, `SELECT COUNT(*) FROM bttlrbrchstostores m
		LEFT JOIN stores s ON s.primarykey = m.store WHERE s.primarykey IS NULL`)
	if orphans != 0 {
		t.Errorf("Expected every mapping to reference a store, got %d orphans", orphans)
	}
}

func TestRun_SecondUploadReusesRows(t *testing.T) {
	m, db := setupUpload(t)
	opts := Options{Batch: writebatch.DefaultConfig()}

	if err := applyFixture(t, m, opts, testFixture); err != nil {
		t.Fatal(err)
	}
	var firstKey int64
	db.Get(&firstKey, "SELECT primarykey FROM stores WHERE id = 101")

	db.MustExec(`UPDATE stores SET timelastuploaded = '2020-01-01 00:00:00'`)

	// Store 103 and its links are left out of the second upload
	second := `
bottlers:
  - name: Acme Bottling
    branches:
      - name: Acme North
        stores: [101, 102]
stores:
  - {id: 101, name: Main St}
  - {id: 102, name: Harbor}
`
	if err := applyFixture(t, m, opts, second); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if got := count(t, db, "stores"); got != 3 {
		t.Errorf("Expected no new stores, got %d", got)
	}
	if got := count(t, db, "bttlrbrchstostores"); got != 3 {
		t.Errorf("Expected no new mappings, got %d", got)
	}
	var key int64
	db.Get(&key, "SELECT primarykey FROM stores WHERE id = 101")
	if key != firstKey {
		t.Errorf("Expected store 101 to keep key %d, got %d", firstKey, key)
	}

	var mentioned, missing time.Time
	if err := db.Get(&mentioned, "SELECT timelastuploaded FROM stores WHERE id = 101"); err != nil {
		t.Fatal(err)
	}
	if err := db.Get(&missing, "SELECT timelastuploaded FROM stores WHERE id = 103"); err != nil {
		t.Fatal(err)
	}
	if mentioned.Year() == 2020 {
		t.Error("Expected uploaded store to carry the new upload time")
	}
	if missing.Year() != 2020 {
		t.Errorf("Expected missing store to keep its previous upload time, got %v", missing)
	}
}

func TestRun_RollsBackOnError(t *testing.T) {
	m, db := setupUpload(t)
	boom := errors.New("spreadsheet truncated")

	err := Run(context.Background(), m, Options{Batch: writebatch.DefaultConfig()}, func(ctx context.Context, job *Job) error {
		if err := job.Register(ctx, Bottlers); err != nil {
			return err
		}
		b := entity.NewBottler()
		b.Name = "Acme"
		if _, err := job.Ensure(ctx, Bottlers.Name, b); err != nil {
			return err
		}
		if _, err := job.Batch().Flush(ctx, "BottlerCreate", true); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected %v, got %v", boom, err)
	}
	if got := count(t, db, "bttlrs"); got != 0 {
		t.Errorf("Expected rollback to remove flushed rows, got %d", got)
	}
	if v := sequenceValue(t, db); v != 0 {
		t.Errorf("Expected the key range to be rolled back, counter at %d", v)
	}
}

func TestRun_PanicRollsBack(t *testing.T) {
	m, db := setupUpload(t)

	func() {
		defer func() {
			if p := recover(); p == nil {
				t.Error("Expected the panic to reach the caller")
			}
		}()
		Run(context.Background(), m, Options{Batch: writebatch.DefaultConfig()}, func(ctx context.Context, job *Job) error {
			if err := job.Register(ctx, Bottlers); err != nil {
				return err
			}
			b := entity.NewBottler()
			b.Name = "Acme"
			if _, err := job.Ensure(ctx, Bottlers.Name, b); err != nil {
				return err
			}
			if _, err := job.Batch().Flush(ctx, "BottlerCreate", true); err != nil {
				return err
			}
			panic("malformed sheet")
		})
	}()

	if got := count(t, db, "bttlrs"); got != 0 {
		t.Errorf("Expected nothing committed, got %d", got)
	}
	// A transaction left open would keep the write lock and fail this upload
	if err := applyFixture(t, m, Options{Batch: writebatch.DefaultConfig()}, testFixture); err != nil {
		t.Fatalf("Run after panic: %v", err)
	}
}

func TestRun_BatchFailureRollsBack(t *testing.T) {
	m, db := setupUpload(t)

	err := Run(context.Background(), m, Options{Batch: writebatch.DefaultConfig()}, func(ctx context.Context, job *Job) error {
		if err := job.Register(ctx, Bottlers); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			b := entity.NewBottler()
			b.Name = "Twice"
			// Create skips the natural key check, so the name collides
			if err := job.Create(ctx, Bottlers.Name, b); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, writebatch.ErrBatchExecution) {
		t.Fatalf("Expected ErrBatchExecution, got %v", err)
	}
	if got := count(t, db, "bttlrs"); got != 0 {
		t.Errorf("Expected nothing committed, got %d", got)
	}
}

func TestRun_ReloadsCachesAfterCommit(t *testing.T) {
	m, _ := setupUpload(t)

	bottlers := persistence.EntityCache(m, "bottlers", entity.NewBottler, "", "name")
	var caches cache.Registry
	caches.Add(bottlers)

	// Loaded before the upload: empty
	if snap := bottlers.Get(context.Background()); snap == nil || snap.Len() != 0 {
		t.Fatalf("Expected empty snapshot, last error %v", bottlers.LastError())
	}

	opts := Options{Batch: writebatch.DefaultConfig(), Caches: &caches}
	if err := applyFixture(t, m, opts, testFixture); err != nil {
		t.Fatal(err)
	}
	if _, ok := bottlers.Lookup(context.Background(), "Acme Bottling"); !ok {
		t.Error("Expected the cache to be reloaded after commit")
	}
}

func TestJob_UnknownType(t *testing.T) {
	m, _ := setupUpload(t)

	err := Run(context.Background(), m, Options{Batch: writebatch.DefaultConfig()}, func(ctx context.Context, job *Job) error {
		if _, err := job.Ensure(ctx, "Nothing", entity.NewBottler()); !errors.Is(err, ErrUnknownType) {
			t.Errorf("Ensure: expected ErrUnknownType, got %v", err)
		}
		if err := job.Register(ctx, Bottlers); err != nil {
			return err
		}
		b := entity.NewBottler()
		if _, err := job.Link(ctx, Bottlers.Name, b, b); !errors.Is(err, ErrNotMapping) {
			t.Errorf("Link: expected ErrNotMapping, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestParseFixture_UnknownStore(t *testing.T) {
	_, err := ParseFixture([]byte(`
bottlers:
  - name: Acme
    branches:
      - name: North
        stores: [999]
`))
	if err == nil {
		t.Fatal("Expected an error for an unknown store")
	}
}
