// Package upload is the unit of work around a batch manager: one
// transaction on one connection, committed only when every batch executed.
package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/mevdschee/stockbatch/cache"
	"github.com/mevdschee/stockbatch/entity"
	"github.com/mevdschee/stockbatch/keyalloc"
	"github.com/mevdschee/stockbatch/metrics"
	"github.com/mevdschee/stockbatch/persistence"
	"github.com/mevdschee/stockbatch/writebatch"
)

var (
	// ErrUnknownType is returned for an entity type the job did not register
	ErrUnknownType = errors.New("entity type not registered")

	// ErrNotMapping is returned when linking through a type that is not a mapping
	ErrNotMapping = errors.New("entity type is not a mapping")
)

// Options configures an upload run
type Options struct {
	Batch writebatch.Config
	// Caches are reloaded from the primary after a successful commit
	Caches *cache.Registry
}

// tracked is the per type state of a job
type tracked struct {
	typ      EntityType
	existing *orderedmap.OrderedMap[string, entity.Uploaded] // rows present before the upload
	seen     map[string]int64                                // unique key -> primary key in this upload
}

// Job is one upload. Its methods must be called from a single goroutine.
type Job struct {
	ID       string
	Uploaded time.Time

	m     *persistence.Manager
	tx    *sqlx.Tx
	keys  *keyalloc.Allocator
	batch *writebatch.Manager
	types map[string]*tracked
	order []*tracked
	fresh map[int64]bool // primary keys created by this upload
}

// Run executes fn as one upload job. After fn returns, every pending batch
// is flushed and the transaction committed. On any error the pending rows
// are discarded, the transaction is rolled back and the error returned. A
// panic in fn rolls back too and is re-raised.
func Run(ctx context.Context, m *persistence.Manager, opts Options, fn func(ctx context.Context, job *Job) error) (err error) {
	tx, err := m.Pool().GetPrimary().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upload: %w", err)
	}

	job := &Job{
		ID:       uuid.NewString(),
		Uploaded: time.Now().UTC().Truncate(time.Second),
		m:        m,
		tx:       tx,
		keys:     m.KeysFor(tx),
		batch:    writebatch.New(tx, opts.Batch),
		types:    make(map[string]*tracked),
		fresh:    make(map[int64]bool),
	}
	log.Printf("[Upload] Job %s started", job.ID)

	settled := false
	defer func() {
		if settled {
			return
		}
		if p := recover(); p != nil {
			job.abort(fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err = fn(ctx, job); err == nil {
		err = job.finish(ctx)
	}
	settled = true
	if err != nil {
		job.abort(err)
		return err
	}

	job.batch.CloseAll()
	if err = tx.Commit(); err != nil {
		metrics.UploadJobs.WithLabelValues("rolled_back").Inc()
		return fmt.Errorf("commit upload %s: %w", job.ID, err)
	}
	metrics.UploadJobs.WithLabelValues("committed").Inc()
	log.Printf("[Upload] Job %s committed", job.ID)

	if opts.Caches != nil {
		opts.Caches.ReloadAll(ctx, m.Pool().GetPrimary())
	}
	m.InvalidateTotals()
	return nil
}

// Tx returns the job's transaction
func (j *Job) Tx() *sqlx.Tx {
	return j.tx
}

// Batch returns the job's batch manager
func (j *Job) Batch() *writebatch.Manager {
	return j.batch
}

// Register prepares the statements of t, loads the rows it already holds
// and marks all of them as uploaded now. Rows that the upload does not
// mention get their previous upload time back when the job finishes.
func (j *Job) Register(ctx context.Context, t EntityType) error {
	proto := t.New()
	if err := j.batch.Register(ctx, t.createHandle(), j.m.Rebind(entity.CreateTemplate(proto)), t.Priority); err != nil {
		return err
	}
	if err := j.batch.Register(ctx, t.updateHandle(), j.m.Rebind(entity.UpdateTemplate(proto)), t.Priority); err != nil {
		return err
	}

	existing, err := persistence.FindEntities(ctx, j.m, j.tx, t.New, "", "", t.KeyColumns...)
	if err != nil {
		return err
	}
	if err := j.Touch(ctx, proto.Table()); err != nil {
		return err
	}

	tr := &tracked{
		typ:      t,
		existing: existing,
		seen:     make(map[string]int64),
	}
	j.types[t.Name] = tr
	j.order = append(j.order, tr)
	log.Printf("[Upload] Job %s registered %s with %d existing rows", j.ID, t.Name, existing.Len())
	return nil
}

// Touch sets the upload time of every row of table to the job's time
func (j *Job) Touch(ctx context.Context, table string) error {
	_, err := j.m.BulkUpdate(ctx, j.tx, table, "timelastuploaded = ?", "", j.Uploaded)
	return err
}

// Create allocates a primary key for e if it has none and appends it to
// the create batch of its type.
func (j *Job) Create(ctx context.Context, typeName string, e entity.Uploaded) error {
	tr, ok := j.types[typeName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return j.create(ctx, tr, e)
}

func (j *Job) create(ctx context.Context, tr *tracked, e entity.Uploaded) error {
	if e.Key() == 0 {
		key, err := j.keys.Allocate(ctx)
		if err != nil {
			return err
		}
		e.SetKey(key)
	}
	row, err := j.batch.Row(ctx, tr.typ.createHandle())
	if err != nil {
		return err
	}
	if err := entity.Bind(e, row, entity.KindCreate, true); err != nil {
		return err
	}
	j.fresh[e.Key()] = true
	return nil
}

// Ensure makes sure e exists. A row seen earlier in this upload or present
// before it lends e its primary key; otherwise e is created. It reports
// whether e was created.
func (j *Job) Ensure(ctx context.Context, typeName string, e entity.Uploaded) (bool, error) {
	tr, ok := j.types[typeName]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}

	key := e.UniqueKey()
	if pk, ok := tr.seen[key]; ok {
		e.SetKey(pk)
		return false, nil
	}

	now := sql.NullTime{Time: j.Uploaded, Valid: true}
	entity.SetUploadTime(e, now)

	created := false
	if prior, ok := tr.existing.Get(key); ok {
		e.SetKey(prior.Key())
		entity.SetUploadTime(prior, now)
	} else {
		if err := j.create(ctx, tr, e); err != nil {
			return false, err
		}
		created = true
	}
	tr.seen[key] = e.Key()
	return created, nil
}

// Link makes sure the mapping of typeName between from and to exists, in
// either direction. A mapping touching a row created by this upload is
// always new.
func (j *Job) Link(ctx context.Context, typeName string, from, to entity.Entity) (bool, error) {
	tr, ok := j.types[typeName]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	mapping, ok := tr.typ.New().(entity.Mapping)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotMapping, typeName)
	}
	mapping.Link(from.Key(), to.Key())

	key := mapping.UniqueKey()
	if _, ok := tr.seen[key]; ok {
		return false, nil
	}

	now := sql.NullTime{Time: j.Uploaded, Valid: true}
	entity.SetUploadTime(mapping, now)

	created := false
	var prior entity.Uploaded
	found := false
	if !j.fresh[from.Key()] && !j.fresh[to.Key()] {
		prior, found = tr.existing.Get(key)
		if !found {
			prior, found = tr.existing.Get(entity.PairKey(to.Key(), from.Key()))
		}
	}
	if found {
		mapping.SetKey(prior.Key())
		entity.SetUploadTime(prior, now)
	} else {
		if err := j.create(ctx, tr, mapping); err != nil {
			return false, err
		}
		created = true
	}
	tr.seen[key] = mapping.Key()
	return created, nil
}

// abort discards the pending rows and rolls the transaction back
func (j *Job) abort(cause error) {
	j.batch.ClearAll()
	j.batch.CloseAll()
	if err := j.tx.Rollback(); err != nil {
		log.Printf("[Upload] Job %s rollback failed: %v", j.ID, err)
	}
	metrics.UploadJobs.WithLabelValues("rolled_back").Inc()
	log.Printf("[Upload] Job %s rolled back: %v", j.ID, cause)
}

// finish restores the upload time of rows this upload did not mention and
// flushes every batch.
func (j *Job) finish(ctx context.Context) error {
	for _, tr := range j.order {
		if err := j.regress(ctx, tr); err != nil {
			return err
		}
	}

	results, err := j.batch.FlushAll(ctx, true)
	if err != nil {
		return err
	}
	rows := 0
	for _, r := range results {
		rows += len(r)
	}
	log.Printf("[Upload] Job %s flushed %d rows", j.ID, rows)
	return nil
}

func (j *Job) regress(ctx context.Context, tr *tracked) error {
	restored := 0
	for pair := tr.existing.Oldest(); pair != nil; pair = pair.Next() {
		prior := pair.Value
		if t, ok := entity.UploadTime(prior); ok && t.Equal(j.Uploaded) {
			continue
		}
		row, err := j.batch.Row(ctx, tr.typ.updateHandle())
		if err != nil {
			return err
		}
		if err := entity.Bind(prior, row, entity.KindUpdate, true); err != nil {
			return err
		}
		restored++
	}
	if restored > 0 {
		log.Printf("[Upload] Job %s restored upload time of %d %s rows", j.ID, restored, tr.typ.Name)
	}
	return nil
}
