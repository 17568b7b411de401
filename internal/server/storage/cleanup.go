package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"lapse/internal/server/database"
	"lapse/internal/server/retention"
)

// Sweep names one of the two expiration passes.
type Sweep string

const (
	SweepBlobs    Sweep = "blobs"
	SweepMetadata Sweep = "metadata"
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lapse_sweep_runs_total",
		Help: "Number of completed sweep runs.",
	}, []string{"sweep"})

	sweepDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lapse_sweep_deleted_total",
		Help: "Number of expired files removed by sweeps.",
	}, []string{"sweep"})

	sweepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lapse_sweep_failures_total",
		Help: "Number of records a sweep failed to remove, plus failed listings.",
	}, []string{"sweep"})

	sweepDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lapse_sweep_duration_seconds",
		Help:    "Duration of sweep runs in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"sweep"})
)

// SweepResult summarises one sweep run.
type SweepResult struct {
	Sweep    Sweep
	Scanned  int
	Deleted  int
	Failed   int
	Duration time.Duration
	// Err is set when the records could not be listed at all.
	Err error
}

// CleanupConfig holds the cron expressions for the two sweeps.
type CleanupConfig struct {
	BlobSchedule     string
	MetadataSchedule string
	Logger           *slog.Logger
}

// CleanupService removes expired blobs and expired metadata on two
// independent schedules. Blob reclamation runs often; metadata is kept for
// the retention grace period and reclaimed on its own, slower schedule.
type CleanupService struct {
	repo   database.Repository
	store  Store
	policy *retention.Policy
	clock  clockwork.Clock
	logger *slog.Logger

	blobSchedule     cron.Schedule
	metadataSchedule cron.Schedule

	// One lock per sweep kind: manual and scheduled runs of the same kind
	// serialise, the two kinds never wait on each other.
	blobMu     sync.Mutex
	metadataMu sync.Mutex

	group errgroup.Group
}

// NewCleanupService creates a new cleanup service. It fails if either
// schedule cannot be parsed.
func NewCleanupService(
	repo database.Repository,
	store Store,
	policy *retention.Policy,
	clock clockwork.Clock,
	cfg CleanupConfig,
) (*CleanupService, error) {
	blobSchedule, err := ParseSchedule(cfg.BlobSchedule)
	if err != nil {
		return nil, err
	}
	metadataSchedule, err := ParseSchedule(cfg.MetadataSchedule)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CleanupService{
		repo:             repo,
		store:            store,
		policy:           policy,
		clock:            clock,
		logger:           logger.With("component", "sweeper"),
		blobSchedule:     blobSchedule,
		metadataSchedule: metadataSchedule,
	}, nil
}

// Start runs both sweeps once immediately and then on their schedules, each
// in its own goroutine, until ctx is cancelled.
func (cs *CleanupService) Start(ctx context.Context) {
	cs.logger.Info("cleanup service started",
		"grace", cs.policy.Grace(),
	)

	cs.group.Go(func() error {
		cs.loop(ctx, SweepBlobs, cs.blobSchedule, cs.SweepBlobs)
		return nil
	})
	cs.group.Go(func() error {
		cs.loop(ctx, SweepMetadata, cs.metadataSchedule, cs.SweepMetadata)
		return nil
	})
}

// Wait blocks until both sweep loops have stopped.
func (cs *CleanupService) Wait() {
	_ = cs.group.Wait()
}

func (cs *CleanupService) loop(ctx context.Context, sweep Sweep, sched cron.Schedule, run func(context.Context) SweepResult) {
	run(ctx)

	for waitNext(ctx, cs.clock, sched) {
		run(ctx)
	}
	cs.logger.Info("sweep loop stopping", "sweep", sweep)
}

// SweepBlobs deletes the blob of every record whose delete date has passed.
// Records are left in place until SweepMetadata removes them.
func (cs *CleanupService) SweepBlobs(ctx context.Context) SweepResult {
	cs.blobMu.Lock()
	defer cs.blobMu.Unlock()

	return cs.sweep(ctx, SweepBlobs, func(rec *database.FileRecord, now time.Time) (bool, error) {
		if !cs.policy.BlobExpired(rec, now) || !cs.store.Exists(rec.ID) {
			return false, nil
		}
		if err := cs.store.Delete(rec.ID); err != nil {
			return false, err
		}
		return true, nil
	})
}

// SweepMetadata deletes every record whose delete date has passed by at
// least the grace period, together with any blob the blob sweep has not yet
// removed. The blob goes first so a failure leaves the record in place for
// the next run to retry.
func (cs *CleanupService) SweepMetadata(ctx context.Context) SweepResult {
	cs.metadataMu.Lock()
	defer cs.metadataMu.Unlock()

	return cs.sweep(ctx, SweepMetadata, func(rec *database.FileRecord, now time.Time) (bool, error) {
		if !cs.policy.MetadataExpired(rec, now) {
			return false, nil
		}
		if cs.store.Exists(rec.ID) {
			if err := cs.store.Delete(rec.ID); err != nil {
				return false, err
			}
		}
		if err := cs.repo.Delete(ctx, rec.ID); err != nil {
			return false, err
		}
		return true, nil
	})
}

// sweep lists all records and applies reclaim to each one. A failing record
// is logged and counted; it never stops the remaining records.
func (cs *CleanupService) sweep(
	ctx context.Context,
	sweep Sweep,
	reclaim func(rec *database.FileRecord, now time.Time) (bool, error),
) SweepResult {
	start := time.Now()
	now := cs.clock.Now()
	result := SweepResult{Sweep: sweep}

	defer func() {
		result.Duration = time.Since(start)
		sweepRunsTotal.WithLabelValues(string(sweep)).Inc()
		sweepDeletedTotal.WithLabelValues(string(sweep)).Add(float64(result.Deleted))
		sweepFailuresTotal.WithLabelValues(string(sweep)).Add(float64(result.Failed))
		sweepDurationSeconds.WithLabelValues(string(sweep)).Observe(result.Duration.Seconds())
	}()

	records, err := cs.repo.List(ctx)
	if err != nil {
		cs.logger.Error("failed to list file records", "sweep", sweep, "error", err)
		result.Failed++
		result.Err = err
		return result
	}
	result.Scanned = len(records)

	for _, rec := range records {
		deleted, err := reclaim(rec, now)
		if err != nil {
			cs.logger.Error("failed to reclaim expired file",
				"sweep", sweep,
				"id", rec.ID,
				"error", err,
			)
			result.Failed++
			continue
		}
		if deleted {
			result.Deleted++
			cs.logger.Info("reclaimed expired file",
				"sweep", sweep,
				"id", rec.ID,
				"name", rec.Name,
				"delete_date", rec.DeleteDate,
			)
		}
	}

	cs.logger.Info("sweep complete",
		"sweep", sweep,
		"scanned", result.Scanned,
		"deleted", result.Deleted,
		"failed", result.Failed,
	)
	return result
}
