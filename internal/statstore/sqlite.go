package statstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jgoulah/itrontap/pkg/models"
	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed Store. Timestamps are persisted as unix seconds so
// window comparisons are timezone-agnostic; callers re-localize on read.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// Open creates a connection and initializes the schema.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Several workers upsert concurrently but SQLite allows one writer;
	// a single pooled connection serializes them instead of surfacing
	// SQLITE_BUSY mid-cycle.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS statistics (
		statistic_id TEXT NOT NULL,
		start_unix INTEGER NOT NULL,
		state REAL NOT NULL,
		sum REAL NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(statistic_id, start_unix)
	);
	CREATE INDEX IF NOT EXISTS idx_statistics_stream ON statistics(statistic_id, start_unix);

	CREATE TABLE IF NOT EXISTS statistics_meta (
		statistic_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit_of_measurement TEXT,
		has_sum INTEGER NOT NULL DEFAULT 1
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// LastCheckpoint returns the newest persisted point for the stream, or nil
// when the stream has never been written.
func (db *DB) LastCheckpoint(ctx context.Context, statisticID string) (*models.Checkpoint, error) {
	query := `
	SELECT start_unix, sum
	FROM statistics
	WHERE statistic_id = ?
	ORDER BY start_unix DESC
	LIMIT 1
	`

	var startUnix int64
	var sum float64
	err := db.conn.QueryRowContext(ctx, query, statisticID).Scan(&startUnix, &sum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last checkpoint: %w", err)
	}

	return &models.Checkpoint{Start: time.Unix(startUnix, 0), Sum: sum}, nil
}

// PointsDuring returns the stream's points in [from, to) ordered ascending.
// A zero to means unbounded.
func (db *DB) PointsDuring(ctx context.Context, statisticID string, from, to time.Time) ([]Point, error) {
	query := `
	SELECT start_unix, state, sum
	FROM statistics
	WHERE statistic_id = ? AND start_unix >= ?
	`
	args := []any{statisticID, from.Unix()}
	if !to.IsZero() {
		query += ` AND start_unix < ?`
		args = append(args, to.Unix())
	}
	query += ` ORDER BY start_unix ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	defer rows.Close()

	var results []Point
	for rows.Next() {
		var startUnix int64
		var pt Point
		if err := rows.Scan(&startUnix, &pt.State, &pt.Sum); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		pt.Start = time.Unix(startUnix, 0)
		results = append(results, pt)
	}

	return results, rows.Err()
}

// UpsertPoints writes points keyed by (statistic_id, start). Re-writing an
// existing hour replaces its state and sum, which is what makes widened
// backfill windows safe to re-ingest.
func (db *DB) UpsertPoints(ctx context.Context, meta Metadata, pts []Point) error {
	if len(pts) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	metaQuery := `
	INSERT INTO statistics_meta (statistic_id, name, unit_of_measurement, has_sum)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(statistic_id) DO UPDATE SET
		name = excluded.name,
		unit_of_measurement = excluded.unit_of_measurement,
		has_sum = excluded.has_sum
	`
	hasSum := 0
	if meta.HasSum {
		hasSum = 1
	}
	if _, err := tx.ExecContext(ctx, metaQuery, meta.StatisticID, meta.Name, meta.UnitOfMeasurement, hasSum); err != nil {
		return fmt.Errorf("upserting metadata: %w", err)
	}

	pointQuery := `
	INSERT INTO statistics (statistic_id, start_unix, state, sum, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(statistic_id, start_unix) DO UPDATE SET
		state = excluded.state,
		sum = excluded.sum
	`
	createdAt := time.Now().UTC().Format(time.RFC3339)
	for _, pt := range pts {
		if _, err := tx.ExecContext(ctx, pointQuery, meta.StatisticID, pt.Start.Unix(), pt.State, pt.Sum, createdAt); err != nil {
			return fmt.Errorf("upserting point at %s: %w", pt.Start.Format(time.RFC3339), err)
		}
	}

	return tx.Commit()
}

// ListStreams returns the metadata of every stream in the store, ordered by
// statistic id.
func (db *DB) ListStreams(ctx context.Context) ([]Metadata, error) {
	query := `
	SELECT statistic_id, name, unit_of_measurement, has_sum
	FROM statistics_meta
	ORDER BY statistic_id
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying streams: %w", err)
	}
	defer rows.Close()

	var results []Metadata
	for rows.Next() {
		var meta Metadata
		var unit sql.NullString
		var hasSum int
		if err := rows.Scan(&meta.StatisticID, &meta.Name, &unit, &hasSum); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		meta.UnitOfMeasurement = unit.String
		meta.HasSum = hasSum != 0
		results = append(results, meta)
	}

	return results, rows.Err()
}
