package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"golang.org/x/sync/errgroup"
)

// ErrSweepRunning is returned by Sweep while another sweep is in progress.
var ErrSweepRunning = errors.New("sweep already running")

// SweepResult counts what one sweep did with the expired leases it found.
type SweepResult struct {
	Checked   int `json:"checked"`
	Reclaimed int `json:"reclaimed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type reclaimOutcome int

const (
	outcomeReclaimed reclaimOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// Reclaimer periodically returns expired leases to the pool. Resources are
// handled independently by a bounded pool of workers; a failure on one never
// stops the others.
type Reclaimer struct {
	leases      *LeaseService
	tracker     ReclaimTracker
	notifier    Notifier
	logger      logging.Logger
	metrics     *metrics.Metrics
	interval    time.Duration
	concurrency int

	running  atomic.Bool
	degraded atomic.Bool
}

func NewReclaimer(leases *LeaseService, tracker ReclaimTracker, n Notifier, interval time.Duration, concurrency int,
	logger logging.Logger, m *metrics.Metrics) *Reclaimer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reclaimer{
		leases:      leases,
		tracker:     tracker,
		notifier:    n,
		logger:      logger,
		metrics:     m,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info(ctx, "reclaimer started", "interval", r.interval, "concurrency", r.concurrency)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "reclaimer stopped")
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx)
			switch {
			case errors.Is(err, ErrSweepRunning):
				r.logger.Debug(ctx, "previous sweep still running, tick skipped")
			case err != nil:
				r.logger.Error(ctx, "sweep failed", "error", err)
			case res.Checked > 0:
				r.logger.Info(ctx, "sweep finished", "checked", res.Checked, "reclaimed", res.Reclaimed,
					"failed", res.Failed, "skipped", res.Skipped)
			}
		}
	}
}

// Sweep reclaims every lease that has ended. It returns ErrSweepRunning
// when another sweep has not finished yet.
func (r *Reclaimer) Sweep(ctx context.Context) (SweepResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.Sweep("skipped")
		return SweepResult{}, ErrSweepRunning
	}
	defer r.running.Store(false)
	r.degraded.Store(false)

	expired, err := r.leases.repomanager.Resources(r.leases.db).ListExpired(ctx, r.leases.now().UTC())
	if err != nil {
		r.metrics.Sweep("failed")
		return SweepResult{}, fmt.Errorf("list expired: %w", err)
	}

	var (
		mu  sync.Mutex
		res = SweepResult{Checked: len(expired)}
		g   errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for i := range expired {
		rs := expired[i]
		g.Go(func() error {
			outcome := r.reclaim(ctx, &rs)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeReclaimed:
				res.Reclaimed++
			case outcomeFailed:
				res.Failed++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	if r.degraded.Load() {
		r.notifier.NotifyOperators(ctx, fmt.Sprintf(
			"Reclaim state store unavailable; %d expired lease(s) handled without backoff or locking.", len(expired)))
	}

	if ids, err := r.tracker.DeadLettered(ctx); err == nil {
		r.metrics.SetDeadLettered(len(ids))
	}
	r.metrics.Sweep("completed")
	return res, nil
}

func (r *Reclaimer) reclaim(ctx context.Context, rs *models.Resource) reclaimOutcome {
	log := r.logger.With("resource_id", rs.ID)

	// The tracker only holds retry bookkeeping. When it is unreachable the
	// lease is still reclaimed; the version check in Release keeps
	// concurrent reclaimers from both releasing it.
	due, err := r.tracker.Due(ctx, rs.ID)
	if err != nil {
		log.Warn(ctx, "reclaim state unavailable, reclaiming without backoff", "error", err)
		r.degraded.Store(true)
		due = true
	}
	if !due {
		r.metrics.Reclaim("skipped")
		return outcomeSkipped
	}

	unlock, err := r.tracker.Lock(ctx, rs.ID)
	switch {
	case errors.Is(err, common.ErrConflict):
		r.metrics.Reclaim("skipped")
		return outcomeSkipped
	case err != nil:
		log.Warn(ctx, "reclaim lock unavailable, relying on version check", "error", err)
		r.degraded.Store(true)
		unlock = func(context.Context) error { return nil }
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn(ctx, "reclaim unlock failed", "error", err)
		}
	}()

	r.notifier.NotifyOwner(ctx, rs.OwnerTelegramID, fmt.Sprintf("Ending lease of %s...", rs.Login))

	if err := r.leases.releaseLease(ctx, rs); err != nil {
		r.fail(ctx, log, rs, err)
		return outcomeFailed
	}

	if err := r.tracker.Reset(ctx, rs.ID); err != nil {
		log.Warn(ctx, "reclaim state reset failed", "error", err)
	}
	log.Info(ctx, "lease reclaimed")
	r.metrics.Reclaim("reclaimed")
	r.notifier.NotifyOwner(ctx, rs.OwnerTelegramID, fmt.Sprintf("Lease of %s ended.", rs.Login))
	return outcomeReclaimed
}

// fail records a failed reclaim. The lease stays rented with its end time
// untouched so the next due sweep picks it up again.
func (r *Reclaimer) fail(ctx context.Context, log logging.Logger, rs *models.Resource, cause error) {
	r.metrics.Reclaim("failed")

	f, err := r.tracker.RecordFailure(ctx, rs.ID)
	if err != nil {
		log.Error(ctx, "reclaim failed", "error", cause, "tracker_error", err)
		r.notifier.NotifyOwner(ctx, rs.OwnerTelegramID,
			fmt.Sprintf("Failed to reset the password of %s at lease end.", rs.Login))
		return
	}

	log.Error(ctx, "reclaim failed", "error", cause, "attempts", f.Attempts, "next_attempt", f.NextAttempt)
	if f.DeadLettered {
		msg := fmt.Sprintf("Gave up resetting the password of %s after %d attempts; manual action required.", rs.Login, f.Attempts)
		r.notifier.NotifyOwner(ctx, rs.OwnerTelegramID, msg)
		r.notifier.NotifyOperators(ctx, fmt.Sprintf("Resource %d dead-lettered: %s", rs.ID, msg))
		return
	}
	if !f.NextAttempt.IsZero() {
		r.notifier.NotifyOwner(ctx, rs.OwnerTelegramID,
			fmt.Sprintf("Failed to reset the password of %s at lease end; retrying after %s.", rs.Login, formatTime(f.NextAttempt)))
	}
}

// ClearBackoff forgets the retry history of a resource so the next sweep
// attempts it again, including after dead-lettering.
func (r *Reclaimer) ClearBackoff(ctx context.Context, id int64) error {
	if err := r.tracker.Reset(ctx, id); err != nil {
		return err
	}
	r.logger.Info(ctx, "reclaim backoff cleared", "resource_id", id)
	return nil
}
