package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no snapshot exists under a name.
var ErrNotFound = errors.New("sketch not found")

func EnsureMetaTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sketch_snapshots (
            name TEXT PRIMARY KEY,
            snapshot_id TEXT NOT NULL,
            sketch_type TEXT NOT NULL,
            parameters TEXT NOT NULL,
            payload BLOB NOT NULL,
            size_bytes INTEGER NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_sketch_snapshots_type ON sketch_snapshots(sketch_type);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is a persisted sketch. Payload holds the uncompressed
// MarshalBinary output.
type Snapshot struct {
	Name       string
	SnapshotID string
	Type       string
	Parameters string
	Payload    []byte
}

// UpsertSketch stores or replaces the snapshot for name and returns the new
// snapshot id. created_at survives updates.
func UpsertSketch(ctx context.Context, db *sql.DB, name, sketchType string, payload []byte, parameters string) (string, error) {
	id := uuid.NewString()
	compressed := snappy.Encode(nil, payload)
	_, err := db.ExecContext(ctx, `
        INSERT INTO sketch_snapshots(name, snapshot_id, sketch_type, parameters, payload, size_bytes, created_at, updated_at)
        VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
        ON CONFLICT(name)
        DO UPDATE SET snapshot_id=excluded.snapshot_id, sketch_type=excluded.sketch_type,
            parameters=excluded.parameters, payload=excluded.payload,
            size_bytes=excluded.size_bytes, updated_at=CURRENT_TIMESTAMP`,
		name, id, sketchType, parameters, compressed, len(payload))
	if err != nil {
		return "", fmt.Errorf("upsert sketch %q: %w", name, err)
	}
	return id, nil
}

// GetSketch retrieves a snapshot by name.
func GetSketch(ctx context.Context, db *sql.DB, name string) (*Snapshot, error) {
	var (
		snap       Snapshot
		compressed []byte
	)
	err := db.QueryRowContext(ctx, `
        SELECT name, snapshot_id, sketch_type, parameters, payload FROM sketch_snapshots
        WHERE name = ?`, name).Scan(&snap.Name, &snap.SnapshotID, &snap.Type, &snap.Parameters, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	snap.Payload, err = snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress sketch %q: %w", name, err)
	}
	return &snap, nil
}

// DeleteSketch removes the snapshot for name.
func DeleteSketch(ctx context.Context, db *sql.DB, name string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM sketch_snapshots WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// ListSketches returns metadata for every stored sketch, newest first.
func ListSketches(ctx context.Context, db *sql.DB) ([]SketchInfo, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT name, snapshot_id, sketch_type, parameters, size_bytes,
               CAST(strftime('%s', created_at) AS INTEGER),
               CAST(strftime('%s', updated_at) AS INTEGER)
        FROM sketch_snapshots
        ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sketches []SketchInfo
	for rows.Next() {
		var (
			info             SketchInfo
			created, updated int64
		)
		if err := rows.Scan(&info.Name, &info.SnapshotID, &info.Type, &info.Parameters, &info.SizeBytes, &created, &updated); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(created, 0).UTC()
		info.UpdatedAt = time.Unix(updated, 0).UTC()
		sketches = append(sketches, info)
	}

	return sketches, rows.Err()
}

// SketchInfo contains metadata about a stored sketch
type SketchInfo struct {
	Name       string    `json:"name"`
	SnapshotID string    `json:"snapshot_id"`
	Type       string    `json:"type"`
	Parameters string    `json:"parameters"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
