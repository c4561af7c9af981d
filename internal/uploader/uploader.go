// Package uploader decides what happens to each submitted photo and
// drains the durable queue once the endpoint is reachable again.
//
// The Orchestrator handles a batch from the user: every file is either
// delivered immediately or written to the queue. The Sweeper walks the
// queue and removes each record only after the endpoint confirms it.
package uploader

//go:generate mockgen -source=uploader.go -destination=mock_uploader_test.go -package=uploader

import (
	"context"
	"log/slog"

	"github.com/alexjbarnes/solara-sync/internal/sheets"
	"github.com/alexjbarnes/solara-sync/internal/state"
)

// Queue is the durable store of undelivered records. *state.State
// satisfies it.
type Queue interface {
	Insert(rec state.Record) (string, error)
	Keys() ([]string, error)
	Get(key string) (*state.Record, error)
	Remove(key string) error
	Count() (int, error)
}

// Deliverer makes one delivery attempt. It never retries and never
// touches the queue. *sheets.Client satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, rec state.Record) sheets.Result
}

// Connectivity reports the last observed reachability state.
type Connectivity interface {
	Online() bool
}

// Preprocessor may replace a file's bytes before encoding, for example
// with a downscaled image. The file name is kept.
type Preprocessor interface {
	Prepare(name string, data []byte) ([]byte, error)
}

// ProgressFunc receives (processed, total) after each item.
type ProgressFunc func(processed, total int)

// Deps are the collaborators shared by the Orchestrator and Sweeper.
type Deps struct {
	Queue        Queue
	Deliverer    Deliverer
	Connectivity Connectivity

	// Preprocessor is optional.
	Preprocessor Preprocessor

	// Reporter is optional; events are dropped when nil.
	Reporter Reporter

	Logger *slog.Logger
}

func (d Deps) reporter() Reporter {
	if d.Reporter == nil {
		return nopReporter{}
	}

	return d.Reporter
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return d.Logger
}

// reportCount publishes the queue size after a mutation. A failing
// Count is logged and skipped; the next mutation will try again.
func reportCount(q Queue, r Reporter, logger *slog.Logger) (int, bool) {
	n, err := q.Count()
	if err != nil {
		logger.Warn("counting queue", slog.String("error", err.Error()))
		return 0, false
	}

	r.QueueCount(n)

	return n, true
}
