package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sahithikokkula/sketchd/pkg/metrics"
	"github.com/sahithikokkula/sketchd/pkg/sketches"
	"github.com/sahithikokkula/sketchd/pkg/storage"
)

// errEvicted is returned by mutators of an entry that has left the cache.
// Its state is already written back; the caller must re-resolve the name.
var errEvicted = errors.New("sketch evicted")

// Entry is a named sketch guarded by a read/write lock. Sketches themselves
// are unsynchronized; every access from the registry goes through here.
type Entry struct {
	Name   string
	Type   sketches.SketchType
	Params sketches.Params

	mu         sync.RWMutex
	sketch     sketches.Sketch
	version    uint64 // bumped on every mutation
	persisted  uint64 // version last written to the store
	snapshotID string
	deleted    bool
	evicted    bool
}

// Info is a point-in-time summary of an entry.
type Info struct {
	Name       string              `json:"name"`
	Type       sketches.SketchType `json:"type"`
	Params     sketches.Params     `json:"params"`
	SizeBytes  int                 `json:"size_bytes"`
	Dimensions map[string]any      `json:"dimensions"`
	Stats      map[string]any      `json:"stats"`
	SnapshotID string              `json:"snapshot_id,omitempty"`
	Dirty      bool                `json:"dirty"`
}

func newEntry(name string, kind sketches.SketchType, params sketches.Params, s sketches.Sketch) *Entry {
	return &Entry{Name: name, Type: kind, Params: params, sketch: s}
}

// Add folds keys into the sketch. increment only matters for countmin;
// membership and cardinality sketches record each key once.
func (e *Entry) Add(keys [][]byte, increment int64) error {
	if increment < 0 {
		return fmt.Errorf("%w: increment must be non-negative, got %d", sketches.ErrInvalidParameter, increment)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}

	switch s := e.sketch.(type) {
	case sketches.FrequencySketch:
		for _, k := range keys {
			if err := s.Update(k, increment); err != nil {
				return err
			}
		}
	case sketches.MembershipSketch:
		for _, k := range keys {
			s.Add(k)
		}
	case sketches.CardinalitySketch:
		for _, k := range keys {
			s.Add(k)
		}
	}
	e.version++
	metrics.AddOps(string(e.Type), "add", len(keys))
	return nil
}

// Contains answers a membership query. Only bloom entries support it.
func (e *Entry) Contains(key []byte) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.sketch.(sketches.MembershipSketch)
	if !ok {
		return false, e.unsupported("contains")
	}
	metrics.IncOp(string(e.Type), "query")
	return s.Contains(key), nil
}

// Estimate answers a frequency query. Only countmin entries support it.
func (e *Entry) Estimate(key []byte) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.sketch.(sketches.FrequencySketch)
	if !ok {
		return 0, e.unsupported("estimate")
	}
	metrics.IncOp(string(e.Type), "query")
	return s.Estimate(key), nil
}

// Cardinality answers a distinct-count query for hyperloglog entries, and
// for bloom entries via the filter's size estimate.
func (e *Entry) Cardinality() (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	metrics.IncOp(string(e.Type), "query")
	switch s := e.sketch.(type) {
	case sketches.CardinalitySketch:
		return s.Cardinality(), nil
	case sketches.MembershipSketch:
		return s.SizeEstimate(), nil
	}
	return 0, e.unsupported("cardinality")
}

// MergeFrom merges src into e. src is copied under its read lock first.
// Merging a countmin entry into itself would double every counter, so it is
// rejected; bloom and hyperloglog self-merges are no-ops.
func (e *Entry) MergeFrom(src *Entry) error {
	if src.Name == e.Name && e.Type == sketches.CountMinSketchType {
		return fmt.Errorf("%w: cannot merge countmin sketch %s into itself", sketches.ErrInvalidParameter, e.Name)
	}
	src.mu.RLock()
	other := sketches.Clone(src.sketch)
	src.mu.RUnlock()
	return e.Merge(other)
}

// Merge folds s into the entry's sketch. s must have the entry's dimensions.
func (e *Entry) Merge(s sketches.Sketch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	if err := sketches.MergeInto(e.sketch, s); err != nil {
		return err
	}
	e.version++
	metrics.IncOp(string(e.Type), "merge")
	return nil
}

// Info summarizes the entry.
func (e *Entry) Info() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	info := Info{
		Name:       e.Name,
		Type:       e.Type,
		Params:     e.Params,
		SizeBytes:  e.sketch.SizeBytes(),
		Dimensions: sketches.Dimensions(e.sketch),
		Stats:      map[string]any{},
		SnapshotID: e.snapshotID,
		Dirty:      e.version != e.persisted,
	}

	switch s := e.sketch.(type) {
	case *sketches.BloomFilter:
		info.Stats["fill_ratio"] = s.FillRatio()
		info.Stats["false_positive_rate"] = s.FalsePositiveRate()
		// +Inf does not survive JSON
		if est := s.SizeEstimate(); math.IsInf(est, 1) {
			info.Stats["saturated"] = true
		} else {
			info.Stats["size_estimate"] = est
		}
	case *sketches.CountMinSketch:
		info.Stats["total_count"] = s.TotalCount()
		info.Stats["error_bound"] = s.ErrorBound()
		info.Stats["confidence"] = s.Confidence()
	case *sketches.HyperLogLog:
		info.Stats["cardinality"] = s.Cardinality()
		info.Stats["standard_error"] = s.StandardError()
	}
	return info
}

// writeBack stores the sketch while holding the write lock, so no mutation,
// eviction or delete interleaves with the upsert. An evicted entry with
// nothing unsaved is left alone unless force is set, in which case the
// caller gets errEvicted and should snapshot the reloaded entry instead.
func (e *Entry) writeBack(ctx context.Context, db *sql.DB, force bool) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, e.Name)
	}
	if e.evicted && e.version == e.persisted {
		if force {
			return "", errEvicted
		}
		return e.snapshotID, nil
	}
	data, err := e.sketch.MarshalBinary()
	if err != nil {
		return "", err
	}
	id, err := storage.UpsertSketch(ctx, db, e.Name, string(e.Type), data, e.Params.String())
	if err != nil {
		return "", err
	}
	e.snapshotID = id
	e.persisted = e.version
	return id, nil
}

// writable reports why e can no longer take writes. Callers hold e.mu.
func (e *Entry) writable() error {
	switch {
	case e.deleted:
		return fmt.Errorf("%w: %s", storage.ErrNotFound, e.Name)
	case e.evicted:
		return errEvicted
	}
	return nil
}

func (e *Entry) dirty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.deleted && e.version != e.persisted
}

// markEvicted flags e as out of the cache and reports whether it still
// needs handling, i.e. it was not deleted.
func (e *Entry) markEvicted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted = true
	return !e.deleted
}

func (e *Entry) markDeleted() {
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
}

func (e *Entry) unsupported(op string) error {
	return fmt.Errorf("%w: %s is not supported by %s sketches", sketches.ErrInvalidParameter, op, e.Type)
}
