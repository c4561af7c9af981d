package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	apperrors "github.com/alexjbarnes/solara-sync/internal/errors"
)

// SweepResult summarizes one pass over the queue.
type SweepResult struct {
	// Skipped is set when the endpoint was unreachable at start.
	Skipped bool

	// Total is the size of the key snapshot taken at start.
	Total     int
	Delivered int
	Failed    int

	// Remaining is the queue size after the pass, including records
	// inserted while it ran. -1 if it could not be read.
	Remaining int

	// Status is the zero value when the queue was empty or the sweep
	// was skipped.
	Status Status
}

// Complete reports whether the queue was empty after the pass.
func (r SweepResult) Complete() bool {
	return !r.Skipped && r.Remaining == 0
}

// Sweeper drains the queue. At most one sweep runs at a time.
type Sweeper struct {
	deps     Deps
	reporter Reporter
	logger   *slog.Logger

	running atomic.Bool
	rerun   atomic.Bool
}

// NewSweeper creates a Sweeper. Queue, Deliverer and Connectivity are
// required.
func NewSweeper(deps Deps) *Sweeper {
	return &Sweeper{
		deps:     deps,
		reporter: deps.reporter(),
		logger:   deps.logger().With(slog.String("component", "sweep")),
	}
}

// Running reports whether a sweep is in progress.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Sweep snapshots the queue keys and tries each record once, in order.
// A delivered record is removed; a failed one stays for the next pass.
// No failure stops the pass early. Records inserted after the snapshot
// are left for the next pass.
//
// If another sweep is running, Sweep returns ErrSweepRunning and asks
// the running sweep for one more pass, which starts when its current
// pass ends and the endpoint is still reachable. Any number of such
// requests during one pass coalesce into a single extra pass. The
// result describes the last pass that found records.
func (s *Sweeper) Sweep(ctx context.Context, progress ProgressFunc) (SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.rerun.Store(true)
		return SweepResult{}, apperrors.ErrSweepRunning
	}

	var res SweepResult

	for first := true; ; first = false {
		next, err := s.pass(ctx, progress)
		if first || next.Total > 0 || err != nil {
			res = next
		}

		if err != nil {
			s.running.Store(false)
			return res, err
		}

		if s.rerun.Swap(false) && s.deps.Connectivity.Online() {
			s.logger.Debug("sync requested during pass, running again")
			continue
		}

		s.running.Store(false)

		// A request that landed between the check above and the store
		// saw running still set and only left the flag behind.
		if !s.rerun.Load() || !s.deps.Connectivity.Online() || !s.running.CompareAndSwap(false, true) {
			return res, nil
		}

		s.rerun.Store(false)
	}
}

// pass runs one sweep over a snapshot of the queue. The caller holds
// the running flag.
func (s *Sweeper) pass(ctx context.Context, progress ProgressFunc) (SweepResult, error) {
	if !s.deps.Connectivity.Online() {
		s.logger.Debug("offline, skipping sync")
		return SweepResult{Skipped: true, Remaining: -1}, nil
	}

	keys, err := s.deps.Queue.Keys()
	if err != nil {
		return SweepResult{Remaining: -1}, fmt.Errorf("listing queue: %w", err)
	}

	if len(keys) == 0 {
		return SweepResult{}, nil
	}

	total := len(keys)
	res := SweepResult{Total: total}

	s.logger.Info("sync starting", slog.Int("pending", total))
	s.reporter.Status(Status{
		Kind:    KindProgress,
		Message: fmt.Sprintf("Trying to sync %d pending item(s)...", total),
		Dismiss: persist,
	})

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			res.Remaining = s.remaining()
			s.logger.Info("sync interrupted",
				slog.Int("delivered", res.Delivered),
				slog.Int("remaining", res.Remaining),
			)

			return res, err
		}

		switch s.syncOne(ctx, key) {
		case syncDelivered:
			res.Delivered++
		case syncFailed:
			res.Failed++
		case syncGone:
		}

		s.reporter.Progress(OpSync, i+1, total)
		if progress != nil {
			progress(i+1, total)
		}
	}

	res.Remaining = s.remaining()
	res.Status = sweepStatus(res)
	s.reporter.Status(res.Status)

	s.logger.Info("sync finished",
		slog.Int("delivered", res.Delivered),
		slog.Int("failed", res.Failed),
		slog.Int("remaining", res.Remaining),
	)

	return res, nil
}

type syncOutcome int

const (
	syncDelivered syncOutcome = iota
	syncFailed
	// syncGone means the key vanished after the snapshot. It counts as
	// neither delivered nor failed.
	syncGone
)

// syncOne delivers a single queued record and removes it on success.
func (s *Sweeper) syncOne(ctx context.Context, key string) syncOutcome {
	rec, err := s.deps.Queue.Get(key)
	if err != nil {
		s.logger.Error("reading queued record", slog.String("key", key), slog.String("error", err.Error()))
		return syncFailed
	}

	if rec == nil {
		s.logger.Debug("record already removed", slog.String("key", key))
		return syncGone
	}

	result := s.deps.Deliverer.Deliver(ctx, *rec)
	if !result.OK {
		s.logger.Warn("delivery failed, keeping record",
			slog.String("key", key),
			slog.String("file", rec.Nombre),
			slog.Any("error", result.Err),
		)

		return syncFailed
	}

	if err := s.deps.Queue.Remove(key); err != nil {
		// Delivered but still queued: the next pass sends it again.
		s.logger.Error("removing delivered record", slog.String("key", key), slog.String("error", err.Error()))
		return syncFailed
	}

	reportCount(s.deps.Queue, s.reporter, s.logger)

	return syncDelivered
}

func (s *Sweeper) remaining() int {
	n, ok := reportCount(s.deps.Queue, s.reporter, s.logger)
	if !ok {
		return -1
	}

	return n
}

func sweepStatus(res SweepResult) Status {
	if res.Remaining == 0 {
		return Status{
			Kind:    KindSuccess,
			Message: fmt.Sprintf("Sync complete: %d uploaded", res.Delivered),
			Dismiss: defaultDismiss,
		}
	}

	return Status{
		Kind: KindError,
		Message: fmt.Sprintf("Partial sync: %d uploaded, %d failed, %d pending",
			res.Delivered, res.Failed, res.Remaining),
		Dismiss: persist,
	}
}
