package ingest

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/bmizerany/assert"
	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/sketchd/pkg/hashing"
	"github.com/sahithikokkula/sketchd/pkg/registry"
	"github.com/sahithikokkula/sketchd/pkg/sketches"
	"github.com/sahithikokkula/sketchd/pkg/storage"
)

func setup(t *testing.T) (*sql.DB, *registry.Registry) {
	t.Helper()
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.EnsureMetaTables(ctx, db); err != nil {
		t.Fatalf("ensure tables: %v", err)
	}

	stmts := []string{
		`CREATE TABLE events (id INTEGER PRIMARY KEY, user_id INTEGER, country TEXT)`,
		`INSERT INTO events(user_id, country) VALUES (1,'US'),(1,'US'),(2,'IN'),(6,'US'),(7,NULL)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}

	r, err := registry.New(db, 8)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return db, r
}

func TestCountMinColumn(t *testing.T) {
	ctx := context.Background()
	db, r := setup(t)
	e, err := r.Create(ctx, "countries", sketches.CountMinSketchType, sketches.Params{Epsilon: 0.01, Delta: 0.01})
	assert.Equal(t, nil, err)

	res, err := Column(ctx, db, r, "countries", "events", "country", Options{})
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(2), res.Distinct)
	assert.Equal(t, int64(4), res.Rows)

	us, _ := e.Estimate(hashing.KeyString("US"))
	assert.T(t, us >= 3)
	in, _ := e.Estimate(hashing.KeyString("IN"))
	assert.T(t, in >= 1)
	assert.Equal(t, uint64(4), e.Info().Stats["total_count"])
}

func TestDistinctColumn(t *testing.T) {
	ctx := context.Background()
	db, r := setup(t)

	hll, _ := r.Create(ctx, "users", sketches.HyperLogLogType, sketches.Params{RelativeError: 0.01})
	res, err := Column(ctx, db, r, "users", "events", "user_id", Options{})
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(4), res.Distinct)
	card, _ := hll.Cardinality()
	assert.T(t, card > 3.9 && card < 4.1)

	bloom, _ := r.Create(ctx, "seen", sketches.BloomType, sketches.Params{ExpectedElements: 100, FalsePositiveRate: 0.01})
	_, err = Column(ctx, db, r, "seen", "events", "user_id", Options{})
	assert.Equal(t, nil, err)
	ok, _ := bloom.Contains(hashing.KeyString("6"))
	assert.T(t, ok)
}

func TestMaxGroups(t *testing.T) {
	ctx := context.Background()
	db, r := setup(t)
	_, _ = r.Create(ctx, "users", sketches.HyperLogLogType, sketches.Params{RelativeError: 0.05})

	res, err := Column(ctx, db, r, "users", "events", "user_id", Options{MaxGroups: 2})
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(2), res.Distinct)
	assert.T(t, res.Truncated)
}

func TestRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	db, r := setup(t)
	_, _ = r.Create(ctx, "users", sketches.HyperLogLogType, sketches.Params{RelativeError: 0.05})

	_, err := Column(ctx, db, r, "users", "events; DROP TABLE events", "user_id", Options{})
	assert.T(t, errors.Is(err, sketches.ErrInvalidParameter))
	_, err = Column(ctx, db, r, "users", "events", "user_id", Options{Fraction: 1.5})
	assert.T(t, errors.Is(err, sketches.ErrInvalidParameter))
	_, err = Column(ctx, db, r, "users", "no_such_table", "user_id", Options{})
	assert.NotEqual(t, nil, err)

	_, err = Column(ctx, db, r, "missing", "events", "user_id", Options{})
	assert.T(t, errors.Is(err, storage.ErrNotFound))

	tables, err := Tables(ctx, db)
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"events"}, tables)
}

func TestFractionSamplesRows(t *testing.T) {
	ctx := context.Background()
	db, r := setup(t)
	if _, err := db.Exec(`CREATE TABLE clicks (id INTEGER PRIMARY KEY, page INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`WITH RECURSIVE seq(x) AS (SELECT 1 UNION ALL SELECT x+1 FROM seq WHERE x < 20000)
        INSERT INTO clicks(page) SELECT x % 500 FROM seq`); err != nil {
		t.Fatal(err)
	}
	e, err := r.Create(ctx, "pages", sketches.CountMinSketchType, sketches.Params{Epsilon: 0.01, Delta: 0.01})
	assert.Equal(t, nil, err)

	res, err := Column(ctx, db, r, "pages", "clicks", "page", Options{Fraction: 0.5})
	assert.Equal(t, nil, err)
	// binomial(20000, 0.5) has a standard deviation near 71
	assert.T(t, res.Rows > 9000 && res.Rows < 11000, res.Rows)
	assert.Equal(t, uint64(res.Rows), e.Info().Stats["total_count"])

	full, err := Column(ctx, db, r, "pages", "clicks", "page", Options{Fraction: 1})
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(20000), full.Rows)
	assert.Equal(t, int64(500), full.Distinct)
}
