package ingest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/itrontap/internal/provider"
	"github.com/jgoulah/itrontap/internal/statstore"
	"github.com/jgoulah/itrontap/pkg/models"
)

// memStore is an in-memory statstore.Store with the same upsert-by-timestamp
// semantics as the SQLite implementation.
type memStore struct {
	mu     sync.Mutex
	points map[string]map[int64]statstore.Point
	meta   map[string]statstore.Metadata
}

func newMemStore() *memStore {
	return &memStore{
		points: make(map[string]map[int64]statstore.Point),
		meta:   make(map[string]statstore.Metadata),
	}
}

func (s *memStore) sorted(statisticID string) []statstore.Point {
	byStart := s.points[statisticID]
	out := make([]statstore.Point, 0, len(byStart))
	for _, pt := range byStart {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (s *memStore) LastCheckpoint(_ context.Context, statisticID string) (*models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts := s.sorted(statisticID)
	if len(pts) == 0 {
		return nil, nil
	}
	last := pts[len(pts)-1]
	return &models.Checkpoint{Start: last.Start, Sum: last.Sum}, nil
}

func (s *memStore) PointsDuring(_ context.Context, statisticID string, from, to time.Time) ([]statstore.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []statstore.Point
	for _, pt := range s.sorted(statisticID) {
		if pt.Start.Before(from) {
			continue
		}
		if !to.IsZero() && !pt.Start.Before(to) {
			continue
		}
		out = append(out, pt)
	}
	return out, nil
}

func (s *memStore) UpsertPoints(_ context.Context, meta statstore.Metadata, pts []statstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[meta.StatisticID] = meta
	byStart := s.points[meta.StatisticID]
	if byStart == nil {
		byStart = make(map[int64]statstore.Point)
		s.points[meta.StatisticID] = byStart
	}
	for _, pt := range pts {
		byStart[pt.Start.Unix()] = pt
	}
	return nil
}

const testStreamID = "itrontap:test_sp1_water_hourly_usage"

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func hourlyIntervals(start time.Time, hours int, usage float64) []models.UsageDetail {
	out := make([]models.UsageDetail, hours)
	for i := range out {
		out[i] = models.UsageDetail{Timestamp: start.Add(time.Duration(i) * time.Hour), Usage: usage}
	}
	return out
}

func TestReconcile_FirstRun(t *testing.T) {
	loc := chicago(t)
	rec := NewReconciler(newMemStore(), 1.0/1000, nil)

	// First-ever run: 48 hourly intervals of 1.0 over two days.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	usage, cost, err := rec.Reconcile(context.Background(), testStreamID, nil, hourlyIntervals(start, 48, 1.0))
	require.NoError(t, err)
	require.Len(t, usage, 48)
	require.Len(t, cost, 48)

	for i, pt := range usage {
		assert.Equal(t, start.Add(time.Duration(i)*time.Hour), pt.Start)
		assert.Equal(t, 1.0, pt.State)
		assert.Equal(t, float64(i+1), pt.Sum)
		if i > 0 {
			assert.True(t, pt.Start.After(usage[i-1].Start))
		}
	}

	// The cost stream shares timestamps and scales linearly.
	assert.Equal(t, usage[47].Start, cost[47].Start)
	assert.InDelta(t, 0.048, cost[47].Sum, 1e-12)
}

func TestReconcile_EmptyIntervalsIsNoOp(t *testing.T) {
	rec := NewReconciler(newMemStore(), 1.0, nil)

	usage, cost, err := rec.Reconcile(context.Background(), testStreamID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, usage)
	assert.Empty(t, cost)
}

func TestReconcile_SortsUnorderedIntervals(t *testing.T) {
	loc := chicago(t)
	rec := NewReconciler(newMemStore(), 1.0, nil)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	intervals := []models.UsageDetail{
		{Timestamp: start.Add(2 * time.Hour), Usage: 3.0},
		{Timestamp: start, Usage: 1.0},
		{Timestamp: start.Add(time.Hour), Usage: 2.0},
	}

	usage, _, err := rec.Reconcile(context.Background(), testStreamID, nil, intervals)
	require.NoError(t, err)
	require.Len(t, usage, 3)
	assert.Equal(t, []float64{1.0, 3.0, 6.0}, []float64{usage[0].Sum, usage[1].Sum, usage[2].Sum})
}

func TestReconcile_FloorsTimestampsToHour(t *testing.T) {
	loc := chicago(t)
	rec := NewReconciler(newMemStore(), 1.0, nil)

	ts := time.Date(2024, 1, 1, 5, 30, 12, 0, loc)
	usage, _, err := rec.Reconcile(context.Background(), testStreamID, nil,
		[]models.UsageDetail{{Timestamp: ts, Usage: 1.0}})
	require.NoError(t, err)
	assert.Equal(t, ts.Truncate(time.Hour), usage[0].Start)
}

func TestReconcile_CheckpointSeed(t *testing.T) {
	loc := chicago(t)
	store := newMemStore()
	rec := NewReconciler(store, 1.0, nil)
	ctx := context.Background()

	// Previously persisted stream: sums 480 at 02-08, 490 at 02-09, 500 at
	// the 02-10 checkpoint.
	seedBase := time.Date(2024, 2, 8, 0, 0, 0, 0, loc)
	require.NoError(t, store.UpsertPoints(ctx, statstore.Metadata{StatisticID: testStreamID}, []statstore.Point{
		{Start: seedBase, State: 10, Sum: 480},
		{Start: seedBase.AddDate(0, 0, 1), State: 10, Sum: 490},
		{Start: seedBase.AddDate(0, 0, 2), State: 10, Sum: 500},
	}))
	checkpoint := &models.Checkpoint{Start: seedBase.AddDate(0, 0, 2), Sum: 500}

	// Ten fresh hourly intervals of 2.0 starting the hour after the
	// checkpoint.
	intervals := hourlyIntervals(seedBase.AddDate(0, 0, 2).Add(time.Hour), 10, 2.0)

	usage, _, err := rec.Reconcile(ctx, testStreamID, checkpoint, intervals)
	require.NoError(t, err)
	require.Len(t, usage, 10)

	// Seed is the last persisted sum before the first fetched interval
	// (500), so the series ends at 480 + 10 + 10 + 20: exactly what a
	// from-scratch resum over the window would produce.
	assert.Equal(t, 502.0, usage[0].Sum)
	assert.Equal(t, 520.0, usage[9].Sum)
}

func TestReconcile_CheckpointWithOverlappingWindow(t *testing.T) {
	loc := chicago(t)
	store := newMemStore()
	rec := NewReconciler(store, 1.0, nil)
	ctx := context.Background()
	meta := statstore.Metadata{StatisticID: testStreamID}

	// Persisted hourly points covering 02-08 00:00 through 02-10 00:00 with
	// usage 1.0 each, starting from sum 480 at the first hour.
	base := time.Date(2024, 2, 8, 0, 0, 0, 0, loc)
	var persisted []statstore.Point
	sum := 479.0
	for ts := base; !ts.After(base.AddDate(0, 0, 2)); ts = ts.Add(time.Hour) {
		sum += 1.0
		persisted = append(persisted, statstore.Point{Start: ts, State: 1.0, Sum: sum})
	}
	require.NoError(t, store.UpsertPoints(ctx, meta, persisted))
	checkpointStart := persisted[len(persisted)-1].Start
	checkpoint := &models.Checkpoint{Start: checkpointStart, Sum: sum}

	// The widened fetch re-delivers everything from 02-08 01:00, replacing
	// two persisted days and appending five new hours.
	intervals := hourlyIntervals(base.Add(time.Hour), len(persisted)-1+5, 1.0)

	usage, _, err := rec.Reconcile(ctx, testStreamID, checkpoint, intervals)
	require.NoError(t, err)
	require.NoError(t, store.UpsertPoints(ctx, meta, toStorePoints(usage)))

	// After upsert the stream must equal a from-scratch resum: overlapping
	// hours overwritten, not double-counted.
	all, err := store.PointsDuring(ctx, testStreamID, base, time.Time{})
	require.NoError(t, err)
	expectSum := 479.0
	for _, pt := range all {
		expectSum += 1.0
		assert.Equal(t, expectSum, pt.Sum, "at %s", pt.Start)
	}
	assert.Equal(t, 480.0+float64(len(all)-1), all[len(all)-1].Sum)
}

func TestReconcile_YoungStreamRefetchedFromStart(t *testing.T) {
	loc := chicago(t)
	store := newMemStore()
	rec := NewReconciler(store, 1.0, nil)
	ctx := context.Background()
	meta := statstore.Metadata{StatisticID: testStreamID}

	// A stream activated less than two days ago: 12 persisted hours with
	// sums 1..12, checkpoint at hour 11. The widened window reaches back
	// past the stream start, so the re-fetch covers the whole history.
	streamStart := time.Date(2024, 6, 1, 0, 0, 0, 0, loc)
	var persisted []statstore.Point
	for i := 0; i < 12; i++ {
		persisted = append(persisted, statstore.Point{
			Start: streamStart.Add(time.Duration(i) * time.Hour),
			State: 1.0,
			Sum:   float64(i + 1),
		})
	}
	require.NoError(t, store.UpsertPoints(ctx, meta, persisted))
	checkpoint := &models.Checkpoint{Start: persisted[11].Start, Sum: 12}

	// All 12 known hours re-delivered plus 6 new ones. No persisted point
	// precedes the fetched range, so the seed is zero and the result must
	// equal a from-scratch resum, not an anomaly.
	intervals := hourlyIntervals(streamStart, 18, 1.0)

	usage, _, err := rec.Reconcile(ctx, testStreamID, checkpoint, intervals)
	require.NoError(t, err)
	require.Len(t, usage, 18)
	assert.Equal(t, 1.0, usage[0].Sum)
	assert.Equal(t, 18.0, usage[17].Sum)

	require.NoError(t, store.UpsertPoints(ctx, meta, toStorePoints(usage)))
	all, err := store.PointsDuring(ctx, testStreamID, streamStart, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 18)
	assert.Equal(t, 18.0, all[17].Sum)
}

func TestReconcile_MissingLookbackIsIntegrityAnomaly(t *testing.T) {
	loc := chicago(t)
	rec := NewReconciler(newMemStore(), 1.0, nil)

	// The store has no persisted points even though a checkpoint exists:
	// resuming from a fabricated sum would corrupt the series forever.
	checkpoint := &models.Checkpoint{Start: time.Date(2024, 2, 10, 0, 0, 0, 0, loc), Sum: 500}
	intervals := hourlyIntervals(checkpoint.Start.Add(time.Hour), 4, 1.0)

	usage, cost, err := rec.Reconcile(context.Background(), testStreamID, checkpoint, intervals)
	assert.True(t, provider.IsIntegrityError(err))
	assert.Empty(t, usage)
	assert.Empty(t, cost)
}

func TestReconcile_IdempotentReRun(t *testing.T) {
	loc := chicago(t)
	store := newMemStore()
	rec := NewReconciler(store, 1.0, nil)
	ctx := context.Background()
	meta := statstore.Metadata{StatisticID: testStreamID}

	seed := statstore.Point{Start: time.Date(2024, 3, 1, 0, 0, 0, 0, loc), State: 0.3, Sum: 100.3}
	require.NoError(t, store.UpsertPoints(ctx, meta, []statstore.Point{seed}))
	checkpoint := &models.Checkpoint{Start: seed.Start, Sum: seed.Sum}

	intervals := hourlyIntervals(seed.Start.Add(time.Hour), 6, 0.1)

	// Reconcile and upsert the same window twice.
	for run := 0; run < 2; run++ {
		usage, _, err := rec.Reconcile(ctx, testStreamID, checkpoint, intervals)
		require.NoError(t, err)
		require.NoError(t, store.UpsertPoints(ctx, meta, toStorePoints(usage)))
	}

	all, err := store.PointsDuring(ctx, testStreamID, seed.Start, time.Time{})
	require.NoError(t, err)
	// 1 seed + 6 reconciled, not 13: the second run overwrote the first.
	require.Len(t, all, 7)
	assert.Equal(t, 100.9, all[6].Sum)

	// Fixed-point accumulation keeps sums exactly monotonic even with
	// fractional usage.
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i].Sum, all[i-1].Sum)
	}
}

func TestReconcile_CostRate(t *testing.T) {
	loc := chicago(t)
	rec := NewReconciler(newMemStore(), 0.002, nil)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	usage, cost, err := rec.Reconcile(context.Background(), testStreamID, nil,
		[]models.UsageDetail{{Timestamp: ts, Usage: 100.0}})
	require.NoError(t, err)

	assert.Equal(t, 100.0, usage[0].State)
	assert.InDelta(t, 0.2, cost[0].State, 1e-12)
	assert.InDelta(t, 0.2, cost[0].Sum, 1e-12)
	assert.Equal(t, usage[0].Start, cost[0].Start)
}

func TestReconcile_ZeroUsageEmitsZeroNotNull(t *testing.T) {
	loc := chicago(t)
	rec := NewReconciler(newMemStore(), 1.0, nil)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	intervals := []models.UsageDetail{
		{Timestamp: start, Usage: 5.0},
		{Timestamp: start.Add(time.Hour), Usage: 0},
		{Timestamp: start.Add(2 * time.Hour), Usage: 0},
	}

	usage, _, err := rec.Reconcile(context.Background(), testStreamID, nil, intervals)
	require.NoError(t, err)
	require.Len(t, usage, 3)
	assert.Equal(t, 0.0, usage[1].State)
	assert.Equal(t, 5.0, usage[1].Sum)
	assert.Equal(t, 5.0, usage[2].Sum)
}
