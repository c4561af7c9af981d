package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/solara-sync/internal/state"
)

// Outcome is what happened to one file.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeQueued    Outcome = "queued"
	OutcomeFailed    Outcome = "failed"
)

// ItemResult reports one file of a batch.
type ItemResult struct {
	Name    string
	Outcome Outcome
	Key     string // queue key, set when Outcome is OutcomeQueued
	Err     error  // delivery error for queued items, fatal error for failed ones
}

// BatchResult summarizes a Submit call.
type BatchResult struct {
	Total     int
	Delivered int
	Queued    int
	Failed    int
	Items     []ItemResult

	// Pending is the queue size after the batch, or -1 if it could not
	// be read.
	Pending int
	Status  Status
}

// Orchestrator applies the per-file delivery policy to a batch.
type Orchestrator struct {
	deps     Deps
	reporter Reporter
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Queue, Deliverer and
// Connectivity are required.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		reporter: deps.reporter(),
		logger:   deps.logger().With(slog.String("component", "orchestrator")),
	}
}

// Submit validates the batch, then processes its files one at a time:
//
//	offline               -> enqueue
//	online, delivered     -> discard
//	online, not delivered -> enqueue
//
// Validation failures return a *ValidationError before any file is read.
// A file that can be neither delivered nor queued is counted as Failed
// and the batch continues. The returned error is non-nil only for
// validation failures and context cancellation.
func (o *Orchestrator) Submit(ctx context.Context, batch Batch, progress ProgressFunc) (BatchResult, error) {
	batch = batch.Normalized()

	if err := batch.Validate(); err != nil {
		var verr *ValidationError
		msg := err.Error()
		if errors.As(err, &verr) {
			msg = verr.userMessage()
		}

		st := Status{Kind: KindError, Message: msg, Dismiss: persist}
		o.reporter.Status(st)
		o.logger.Warn("batch rejected", slog.String("error", err.Error()))

		return BatchResult{Pending: -1, Status: st}, err
	}

	total := len(batch.Files)
	res := BatchResult{Total: total, Items: make([]ItemResult, 0, total)}

	o.logger.Info("processing batch",
		slog.Int("files", total),
		slog.String("ciclo", batch.Ciclo),
		slog.String("sector", batch.Sector),
		slog.String("ruta", batch.Ruta),
		slog.String("tecnico", batch.Tecnico),
	)

	for i, f := range batch.Files {
		if err := ctx.Err(); err != nil {
			res.Pending = o.pending()
			res.Status = Status{
				Kind:    KindError,
				Message: fmt.Sprintf("Submission interrupted after %d of %d photo(s).", i, total),
				Dismiss: persist,
			}
			o.reporter.Status(res.Status)

			return res, err
		}

		item := o.process(ctx, batch, f)
		res.Items = append(res.Items, item)

		switch item.Outcome {
		case OutcomeDelivered:
			res.Delivered++
		case OutcomeQueued:
			res.Queued++
		case OutcomeFailed:
			res.Failed++
		}

		o.reporter.Progress(OpSubmit, i+1, total)
		if progress != nil {
			progress(i+1, total)
		}
	}

	res.Pending = o.pending()
	res.Status = batchStatus(res)
	o.reporter.Status(res.Status)

	o.logger.Info("batch complete",
		slog.Int("delivered", res.Delivered),
		slog.Int("queued", res.Queued),
		slog.Int("failed", res.Failed),
	)

	return res, nil
}

// process runs one file through read, preprocess, encode and the
// decision table.
func (o *Orchestrator) process(ctx context.Context, batch Batch, f File) ItemResult {
	item := ItemResult{Name: f.Name}

	data, err := f.read()
	if err != nil {
		o.logger.Error("file lost", slog.String("file", f.Name), slog.String("error", err.Error()))
		item.Outcome = OutcomeFailed
		item.Err = err

		return item
	}

	if o.deps.Preprocessor != nil {
		prepared, perr := o.deps.Preprocessor.Prepare(f.Name, data)
		if perr != nil {
			o.logger.Warn("preprocessing failed, sending original",
				slog.String("file", f.Name),
				slog.String("error", perr.Error()),
			)
		} else {
			data = prepared
		}
	}

	rec := state.Record{
		Ciclo:     batch.Ciclo,
		Sector:    batch.Sector,
		Ruta:      batch.Ruta,
		Tecnico:   batch.Tecnico,
		Nombre:    f.Name,
		Contenido: EncodeDataURI(f.Name, data),
	}

	if o.deps.Connectivity.Online() {
		result := o.deps.Deliverer.Deliver(ctx, rec)
		if result.OK {
			o.logger.Debug("delivered", slog.String("file", f.Name))
			item.Outcome = OutcomeDelivered

			return item
		}

		o.logger.Warn("delivery failed, queueing",
			slog.String("file", f.Name),
			slog.Any("error", result.Err),
		)
		item.Err = result.Err
	}

	key, err := o.deps.Queue.Insert(rec)
	if err != nil {
		// Neither delivered nor stored: the photo only survives in its
		// source file now.
		o.logger.Error("file lost", slog.String("file", f.Name), slog.String("error", err.Error()))
		item.Outcome = OutcomeFailed
		item.Err = err

		return item
	}

	o.logger.Debug("queued", slog.String("file", f.Name), slog.String("key", key))
	item.Outcome = OutcomeQueued
	item.Key = key
	reportCount(o.deps.Queue, o.reporter, o.logger)

	return item
}

func (o *Orchestrator) pending() int {
	n, ok := reportCount(o.deps.Queue, o.reporter, o.logger)
	if !ok {
		return -1
	}

	return n
}

// batchStatus builds the terminal status line for a batch.
func batchStatus(res BatchResult) Status {
	if res.Failed > 0 {
		var names []string
		for _, it := range res.Items {
			if it.Outcome == OutcomeFailed {
				names = append(names, it.Name)
			}
		}

		return Status{
			Kind: KindError,
			Message: fmt.Sprintf("%d photo(s) could not be uploaded or saved: %s. %d uploaded, %d queued.",
				res.Failed, strings.Join(names, ", "), res.Delivered, res.Queued),
			Dismiss: persist,
		}
	}

	if res.Queued == 0 {
		return Status{
			Kind:    KindSuccess,
			Message: fmt.Sprintf("%d uploaded", res.Delivered),
			Dismiss: batchSuccessDismiss,
		}
	}

	pending := res.Pending
	if pending < res.Queued {
		pending = res.Queued
	}

	if res.Delivered == 0 {
		return Status{
			Kind:    KindInfo,
			Message: fmt.Sprintf("%d queued. Photos will sync when the connection returns.", pending),
			Dismiss: persist,
		}
	}

	return Status{
		Kind: KindInfo,
		Message: fmt.Sprintf("%d uploaded, %d queued. %d pending in the local queue.",
			res.Delivered, res.Queued, pending),
		Dismiss: persist,
	}
}
