package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/itrontap/internal/provider"
	"github.com/jgoulah/itrontap/internal/statstore"
	"github.com/jgoulah/itrontap/pkg/models"
)

// ReadingPublisher pushes a service point's latest meter reading to an
// external consumer. Optional; a nil publisher disables publishing.
type ReadingPublisher interface {
	PublishReading(muniCode string, sp models.ServicePoint) error
}

// Coordinator drives one polling cycle: authenticate, discover the catalog,
// then fetch, reconcile, and persist every service point.
type Coordinator struct {
	client  *provider.Client
	store   statstore.Store
	rec     *Reconciler
	pub     ReadingPublisher
	log     *slog.Logger
	workers int
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	ServicePoints []models.ServicePoint
	PointsWritten int
	// Failed lists service points whose reconciliation hit an integrity
	// anomaly. They wrote nothing this cycle; the rest proceeded normally.
	Failed []string
}

// NewCoordinator wires a cycle driver. costRate is the cost per usage unit
// for the derived cost stream; workers bounds how many service points are
// processed concurrently.
func NewCoordinator(client *provider.Client, store statstore.Store, pub ReadingPublisher, costRate float64, workers int, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Coordinator{
		client:  client,
		store:   store,
		rec:     NewReconciler(store, costRate, log),
		pub:     pub,
		log:     log.With("component", "coordinator"),
		workers: workers,
	}
}

// RunCycle executes one full ingestion cycle. Sessions expire within
// minutes and cycles are hours apart, so it always re-authenticates instead
// of reusing a session.
//
// An authentication or connection failure aborts the whole cycle; the
// caller distinguishes them with provider.IsAuthError (operator must fix
// credentials) versus everything else (transient, retried next cycle).
// Integrity anomalies abort only the affected service point.
func (c *Coordinator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if err := c.client.Login(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	points, err := c.client.DiscoverServicePoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering service points: %w", err)
	}

	result := &CycleResult{ServicePoints: points}
	var mu sync.Mutex

	// Service points reconcile independently, so they can run concurrently;
	// each computes its own checkpoint and running sum.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, sp := range points {
		g.Go(func() error {
			written, err := c.processServicePoint(gctx, sp)
			if err != nil {
				if provider.IsIntegrityError(err) {
					c.log.Error("service point failed, skipping this cycle",
						"service_point", sp.ID, "error", err)
					mu.Lock()
					result.Failed = append(result.Failed, sp.ID)
					mu.Unlock()
					return nil
				}
				return err
			}
			mu.Lock()
			result.PointsWritten += written
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Coordinator) processServicePoint(ctx context.Context, sp models.ServicePoint) (int, error) {
	usageID := c.StatisticID(sp, "usage")
	costID := c.StatisticID(sp, "cost")
	log := c.log.With("service_point", sp.ID, "statistic_id", usageID)

	checkpoint, err := c.store.LastCheckpoint(ctx, usageID)
	if err != nil {
		return 0, fmt.Errorf("loading checkpoint for %s: %w", usageID, err)
	}

	var from *time.Time
	if checkpoint != nil {
		// Widen the window so retroactive provider corrections and
		// placeholder days get re-ingested; the upsert overwrites overlap.
		t := checkpoint.Start.Add(-backfillLookback)
		from = &t
		log.Debug("fetching since checkpoint", "checkpoint", checkpoint.Start, "from", t)
	} else {
		log.Debug("first run, backfilling from start date", "start_date", sp.StartDate)
	}

	details, err := c.client.UsageSince(ctx, sp, from)
	if err != nil {
		return 0, fmt.Errorf("fetching usage for %s: %w", sp.ID, err)
	}

	usage, cost, err := c.rec.Reconcile(ctx, usageID, checkpoint, details)
	if err != nil {
		return 0, err
	}

	written := 0
	if len(usage) > 0 {
		namePrefix := c.namePrefix(sp)
		if err := c.store.UpsertPoints(ctx, statstore.Metadata{
			StatisticID:       usageID,
			Name:              namePrefix + " consumption",
			UnitOfMeasurement: unitLabel(sp.Commodity.Unit),
			HasSum:            true,
		}, toStorePoints(usage)); err != nil {
			return 0, fmt.Errorf("upserting usage for %s: %w", usageID, err)
		}
		if err := c.store.UpsertPoints(ctx, statstore.Metadata{
			StatisticID: costID,
			Name:        namePrefix + " cost",
			HasSum:      true,
		}, toStorePoints(cost)); err != nil {
			return 0, fmt.Errorf("upserting cost for %s: %w", costID, err)
		}
		written = len(usage)
		log.Info("statistics updated", "points", written)
	} else {
		log.Debug("no new intervals")
	}

	if c.pub != nil {
		if err := c.pub.PublishReading(c.client.Municipality().Code, sp); err != nil {
			// Publishing is best-effort; the statistics are already durable.
			log.Warn("publishing reading failed", "error", err)
		}
	}

	return written, nil
}

// StatisticID builds the stream id for a service point's usage or cost
// series, e.g. "itrontap:lcpw_1234_water_hourly_usage".
func (c *Coordinator) StatisticID(sp models.ServicePoint, kind string) string {
	prefix := strings.Join([]string{
		c.client.Municipality().Code,
		sp.ID,
		string(sp.Meter.Type),
	}, "_")
	return fmt.Sprintf("itrontap:%s_hourly_%s", strings.ToLower(prefix), kind)
}

func (c *Coordinator) namePrefix(sp models.ServicePoint) string {
	return strings.ToLower(strings.Join([]string{
		"itrontap",
		c.client.Municipality().Code,
		sp.ID,
		string(sp.Meter.Type),
	}, " "))
}

func unitLabel(unit models.UnitOfMeasure) string {
	switch unit {
	case models.UnitGallon:
		return "gal"
	case models.UnitKWH:
		return "kWh"
	case models.UnitTherm:
		return "therm"
	case models.UnitCCF:
		return "CCF"
	default:
		return ""
	}
}

func toStorePoints(pts []models.ReconciledPoint) []statstore.Point {
	out := make([]statstore.Point, len(pts))
	for i, pt := range pts {
		out[i] = statstore.Point{Start: pt.Start, State: pt.State, Sum: pt.Sum}
	}
	return out
}
