// Package ingest folds the values of a SQL column into a registry entry.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/sahithikokkula/sketchd/pkg/hashing"
	"github.com/sahithikokkula/sketchd/pkg/metrics"
	"github.com/sahithikokkula/sketchd/pkg/registry"
	"github.com/sahithikokkula/sketchd/pkg/sketches"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options narrows what is read. Fraction in (0,1) keeps a uniform random
// subset of rows, so countmin counts then reflect the sampled rows only.
// MaxGroups caps the number of distinct values read; zero means no cap.
type Options struct {
	Fraction  float64 `json:"fraction,omitempty"`
	MaxGroups int     `json:"max_groups,omitempty"`
}

// Result reports what an ingest read.
type Result struct {
	Table     string `json:"table"`
	Column    string `json:"column"`
	Distinct  int64  `json:"distinct"`
	Rows      int64  `json:"rows"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Column streams `SELECT col, COUNT(*) ... GROUP BY col` into the named
// entry. The rows are folded into a scratch sketch with the entry's
// parameters, which is then merged in as a single update. Count-Min entries
// receive each value with its row count as the increment; Bloom and
// HyperLogLog entries receive each distinct value once. NULLs are skipped.
func Column(ctx context.Context, db *sql.DB, reg *registry.Registry, name, table, column string, opts Options) (*Result, error) {
	if !identifier.MatchString(table) || !identifier.MatchString(column) {
		return nil, fmt.Errorf("%w: invalid identifier %q.%q", sketches.ErrInvalidParameter, table, column)
	}
	if opts.Fraction < 0 || opts.Fraction > 1 {
		return nil, fmt.Errorf("%w: fraction must be in (0,1], got %v", sketches.ErrInvalidParameter, opts.Fraction)
	}
	e, err := reg.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	scratch, err := sketches.New(e.Type, e.Params)
	if err != nil {
		return nil, err
	}

	res, err := fill(ctx, db, scratch, table, column, opts)
	if err != nil {
		return nil, err
	}
	if _, err := reg.Update(ctx, name, func(e *registry.Entry) error { return e.Merge(scratch) }); err != nil {
		return nil, err
	}

	metrics.AddOps(string(e.Type), "add", int(res.Distinct))
	metrics.AddIngestRows(string(e.Type), res.Rows)
	return res, nil
}

func fill(ctx context.Context, db *sql.DB, s sketches.Sketch, table, column string, opts Options) (*Result, error) {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE %s IS NOT NULL", column, table, column)
	if opts.Fraction > 0 && opts.Fraction < 1 {
		query += fmt.Sprintf(" AND (abs(random())/9223372036854775807.0) < %f", opts.Fraction)
	}
	query += fmt.Sprintf(" GROUP BY %s", column)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := &Result{Table: table, Column: column}
	for rows.Next() {
		if opts.MaxGroups > 0 && res.Distinct >= int64(opts.MaxGroups) {
			res.Truncated = true
			break
		}
		var (
			value string
			count int64
		)
		if err := rows.Scan(&value, &count); err != nil {
			return nil, err
		}
		res.Distinct++
		res.Rows += count

		key := hashing.KeyString(value)
		switch v := s.(type) {
		case sketches.FrequencySketch:
			if err := v.Update(key, count); err != nil {
				return nil, err
			}
		case sketches.MembershipSketch:
			v.Add(key)
		case sketches.CardinalitySketch:
			v.Add(key)
		}
	}
	return res, rows.Err()
}

// Tables lists the user tables in db, skipping the snapshot store.
func Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master
        WHERE type='table' AND name NOT LIKE 'sqlite_%' AND name <> 'sketch_snapshots' ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
