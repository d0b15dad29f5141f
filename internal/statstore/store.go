// Package statstore is the long-term statistics store boundary. The
// ingestion engine only depends on the Store interface; the SQLite
// implementation in this package is one collaborator behind it.
package statstore

import (
	"context"
	"time"

	"github.com/jgoulah/itrontap/pkg/models"
)

// Point is one persisted hourly statistic: the hour's incremental state and
// the running cumulative sum including it.
type Point struct {
	Start time.Time
	State float64
	Sum   float64
}

// Metadata describes a statistic stream.
type Metadata struct {
	StatisticID       string
	Name              string
	UnitOfMeasurement string
	HasSum            bool
}

// Store is the persistence boundary for reconciled statistics.
type Store interface {
	// LastCheckpoint returns the newest persisted (timestamp, sum) pair for
	// the stream, or nil when the stream has never been written.
	LastCheckpoint(ctx context.Context, statisticID string) (*models.Checkpoint, error)

	// PointsDuring returns the stream's hourly points in [from, to),
	// ordered by timestamp ascending. A zero to means unbounded.
	PointsDuring(ctx context.Context, statisticID string, from, to time.Time) ([]Point, error)

	// UpsertPoints writes points idempotently, keyed by (stream, timestamp):
	// re-writing an existing hour overwrites it instead of appending.
	UpsertPoints(ctx context.Context, meta Metadata, pts []Point) error
}
