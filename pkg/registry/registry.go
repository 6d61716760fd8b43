// Package registry keeps named sketches in memory and persists them to the
// snapshot store. Hot entries live in an LRU; evicted entries are written
// back if they changed since their last snapshot, and reloaded on demand.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sahithikokkula/sketchd/pkg/metrics"
	"github.com/sahithikokkula/sketchd/pkg/sketches"
	"github.com/sahithikokkula/sketchd/pkg/storage"
)

var (
	ErrExists = errors.New("sketch already exists")

	validName = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)
)

type Registry struct {
	db    *sql.DB
	mu    sync.Mutex // serializes create, delete, cache fills and evictions
	cache *lru.Cache[string, *Entry]
	loads singleflight.Group
}

// New returns a registry holding at most size entries in memory.
func New(db *sql.DB, size int) (*Registry, error) {
	r := &Registry{db: db}
	cache, err := lru.NewWithEvict[string, *Entry](size, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d", sketches.ErrInvalidParameter, size)
	}
	r.cache = cache
	return r, nil
}

// onEvict runs inside cache.Add or cache.Remove, which are only called
// with r.mu held, so a reload of name cannot read the store before the
// write-back below has finished.
func (r *Registry) onEvict(name string, e *Entry) {
	metrics.DropSketch(name)
	if !e.markEvicted() {
		return
	}
	metrics.IncEviction()
	if !e.dirty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.persist(ctx, e, false); err != nil {
		log.Printf("persist evicted sketch %s: %v", name, err)
	}
}

// Create builds an empty sketch and stores its first snapshot.
func (r *Registry) Create(ctx context.Context, name string, kind sketches.SketchType, params sketches.Params) (*Entry, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid sketch name %q", sketches.ErrInvalidParameter, name)
	}
	s, err := sketches.New(kind, params)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache.Contains(name) {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	_, err = storage.GetSketch(ctx, r.db, name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	e := newEntry(name, kind, params, s)
	e.version = 1
	if _, err := r.persist(ctx, e, false); err != nil {
		return nil, err
	}
	r.cache.Add(name, e)
	metrics.SetSketchBytes(name, s.SizeBytes())
	log.Printf("created %s sketch %s (%s)", kind, name, params)
	return e, nil
}

// Get returns the entry for name, loading it from the store on a miss.
// Concurrent misses for one name share a single load.
func (r *Registry) Get(ctx context.Context, name string) (*Entry, error) {
	if e, ok := r.cache.Get(name); ok {
		return e, nil
	}

	v, err, _ := r.loads.Do(name, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if e, ok := r.cache.Get(name); ok {
			return e, nil
		}
		e, err := r.load(ctx, name)
		if err != nil {
			return nil, err
		}
		r.cache.Add(name, e)
		metrics.SetSketchBytes(name, e.sketch.SizeBytes())
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

const maxUpdateAttempts = 5

// Update runs fn against the resident entry for name. If the entry was
// evicted between lookup and fn taking its lock, fn sees errEvicted without
// having changed anything and is run again against the reloaded entry.
func (r *Registry) Update(ctx context.Context, name string, fn func(*Entry) error) (*Entry, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		e, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := fn(e); !errors.Is(err, errEvicted) {
			return e, err
		}
	}
	return nil, fmt.Errorf("update %s: evicted %d times in a row", name, maxUpdateAttempts)
}

func (r *Registry) load(ctx context.Context, name string) (*Entry, error) {
	snap, err := storage.GetSketch(ctx, r.db, name)
	if err != nil {
		return nil, err
	}
	kind, err := sketches.ParseType(snap.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: stored type %q", sketches.ErrCorrupt, snap.Type)
	}
	var params sketches.Params
	if err := json.Unmarshal([]byte(snap.Parameters), &params); err != nil {
		return nil, fmt.Errorf("%w: parameters of %s: %v", sketches.ErrCorrupt, name, err)
	}
	s, err := sketches.Decode(kind, snap.Payload)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	e := newEntry(name, kind, params, s)
	e.snapshotID = snap.SnapshotID
	return e, nil
}

// Delete drops the entry from memory and from the store.
func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, cached := r.cache.Peek(name)
	if cached {
		e.markDeleted()
		r.cache.Remove(name)
	}
	err := storage.DeleteSketch(ctx, r.db, name)
	if err != nil && !(cached && errors.Is(err, storage.ErrNotFound)) {
		return err
	}
	log.Printf("deleted sketch %s", name)
	return nil
}

// List returns stored sketch metadata. Every created sketch is stored at
// creation, so the list is complete even for entries not yet flushed.
func (r *Registry) List(ctx context.Context) ([]storage.SketchInfo, error) {
	return storage.ListSketches(ctx, r.db)
}

// Snapshot writes the entry for name to the store now, dirty or not, and
// returns the new snapshot id.
func (r *Registry) Snapshot(ctx context.Context, name string) (string, error) {
	var id string
	_, err := r.Update(ctx, name, func(e *Entry) error {
		var err error
		id, err = r.persist(ctx, e, true)
		return err
	})
	return id, err
}

// FlushAll writes back every resident entry that changed since its last
// snapshot.
func (r *Registry) FlushAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.cache.Keys() {
		e, ok := r.cache.Peek(name)
		if !ok || !e.dirty() {
			continue
		}
		// ErrNotFound means it was deleted after the scan
		_, err := r.persist(ctx, e, false)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("flush %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// StartPeriodicFlush runs FlushAll every interval until ctx is done.
func (r *Registry) StartPeriodicFlush(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.FlushAll(ctx); err != nil {
					log.Printf("periodic flush: %v", err)
				}
			}
		}
	}()
}

// Len returns the number of resident entries.
func (r *Registry) Len() int {
	return r.cache.Len()
}

func (r *Registry) persist(ctx context.Context, e *Entry, force bool) (string, error) {
	id, err := e.writeBack(ctx, r.db, force)
	if err != nil {
		return "", err
	}
	metrics.IncOp(string(e.Type), "snapshot")
	return id, nil
}
