package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jgoulah/itrontap/internal/provider"
	"github.com/jgoulah/itrontap/internal/statstore"
	"github.com/jgoulah/itrontap/pkg/models"
)

const (
	// backfillLookback is how far before the checkpoint the fetch window is
	// widened. The portal retroactively adjusts up to about two days of
	// prior data and publishes placeholder zeros up to a day ahead, so
	// re-fetching this window keeps the series correct; the store's upsert
	// overwrites the overlap.
	backfillLookback = 48 * time.Hour

	// seedLookback is how far before the checkpoint previously persisted
	// points are queried when recovering the running sum. One day wider
	// than the fetch window so a persisted point strictly before the first
	// re-fetched interval always exists for a healthy stream.
	seedLookback = 72 * time.Hour
)

// Reconciler merges newly fetched hourly intervals with a stream's persisted
// running total, producing an append-only cumulative series plus a parallel
// cost series. Sums accumulate in fixed-point decimals so re-running the
// same window yields bit-identical output.
type Reconciler struct {
	store statstore.Store
	rate  decimal.Decimal
	log   *slog.Logger
}

// NewReconciler creates a reconciler. rate is the cost per usage unit
// applied to the derived cost stream.
func NewReconciler(store statstore.Store, rate float64, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		store: store,
		rate:  decimal.NewFromFloat(rate),
		log:   log.With("component", "reconciler"),
	}
}

// Reconcile converts fetched intervals into usage and cost points for the
// given stream.
//
// On a first run (nil checkpoint) the running sum starts at zero. With a
// checkpoint present, the widened fetch window overlaps previously persisted
// hours, so the correct running sum as of the first fetched interval is
// recovered from the store: the last persisted sum strictly before that
// interval becomes the seed, and every fetched interval is then re-emitted
// on top of it. Overlapping hours are overwritten by the store's upsert, so
// the net effect equals a from-scratch resum over the window. When the
// widened window reaches back past the start of a young stream, no point
// precedes the fetched range and the seed is zero: the fetch re-emits the
// stream's whole history.
//
// If the store has no persisted points at all in the lookback window despite
// a checkpoint existing, the stream is in an inconsistent state; fabricating
// a seed would permanently corrupt the cumulative series, so reconciliation
// fails with an integrity error instead.
//
// Empty intervals are a normal no-op cycle, not an error.
func (r *Reconciler) Reconcile(ctx context.Context, statisticID string, checkpoint *models.Checkpoint, intervals []models.UsageDetail) (usage, cost []models.ReconciledPoint, err error) {
	if len(intervals) == 0 {
		return nil, nil, nil
	}

	sorted := make([]models.UsageDetail, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	sum := decimal.Zero
	if checkpoint != nil {
		seed, err := r.recoverSeed(ctx, statisticID, checkpoint, sorted[0].Timestamp)
		if err != nil {
			return nil, nil, err
		}
		sum = seed
	}

	usage = make([]models.ReconciledPoint, 0, len(sorted))
	cost = make([]models.ReconciledPoint, 0, len(sorted))
	for _, detail := range sorted {
		state := decimal.NewFromFloat(detail.Usage)
		sum = sum.Add(state)
		start := detail.Timestamp.Truncate(time.Hour)

		usage = append(usage, models.ReconciledPoint{
			Start: start,
			State: state.InexactFloat64(),
			Sum:   sum.InexactFloat64(),
		})
		cost = append(cost, models.ReconciledPoint{
			Start: start,
			State: state.Mul(r.rate).InexactFloat64(),
			Sum:   sum.Mul(r.rate).InexactFloat64(),
		})
	}

	return usage, cost, nil
}

// recoverSeed finds the running sum as of the first fetched interval: the
// sum of the last persisted point strictly before it, or zero when the fetch
// reaches back to the stream's earliest hour. Fetched hours rarely align
// with the checkpoint since the portal returns whole days, so the seed may
// sit up to a day inside the overlap.
func (r *Reconciler) recoverSeed(ctx context.Context, statisticID string, checkpoint *models.Checkpoint, firstFetched time.Time) (decimal.Decimal, error) {
	existing, err := r.store.PointsDuring(ctx, statisticID, checkpoint.Start.Add(-seedLookback), time.Time{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("querying persisted points for %s: %w", statisticID, err)
	}
	if len(existing) == 0 {
		// A checkpoint exists, so the stream must have persisted points in
		// the lookback window.
		return decimal.Zero, &provider.IntegrityError{
			Op:     "reconcile",
			Reason: fmt.Sprintf("stream %s has a checkpoint at %s but no persisted points in the lookback window", statisticID, checkpoint.Start.Format(time.RFC3339)),
		}
	}

	var seed *float64
	for _, pt := range existing {
		if !pt.Start.Before(firstFetched) {
			break
		}
		sum := pt.Sum
		seed = &sum
	}
	if seed == nil {
		// Every persisted point sits at or after the first fetched interval,
		// which happens whenever the widened window reaches back past the
		// start of a young stream. The fetch covers the stream's entire
		// history and the upsert overwrites every persisted hour, so a
		// from-scratch resum is the correct sum, not an anomaly.
		r.log.Debug("fetch window spans entire stream, resumming from zero",
			"statistic_id", statisticID, "first_fetched", firstFetched)
		return decimal.Zero, nil
	}

	r.log.Debug("recovered running sum", "statistic_id", statisticID, "seed", *seed)
	return decimal.NewFromFloat(*seed), nil
}
