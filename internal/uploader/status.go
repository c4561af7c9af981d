package uploader

import (
	"context"
	"log/slog"
	"time"
)

// Kind classifies a status line.
type Kind string

const (
	KindSuccess  Kind = "success"
	KindInfo     Kind = "info"
	KindError    Kind = "error"
	KindProgress Kind = "progress"
)

// Auto-dismiss durations. Zero keeps the status until the next one
// replaces it.
const (
	defaultDismiss      = 4 * time.Second
	batchSuccessDismiss = 8 * time.Second
	persist             = time.Duration(0)
)

// Operation names the activity a progress event belongs to.
type Operation string

const (
	OpSubmit Operation = "submit"
	OpSync   Operation = "sync"
)

// Status is the single user-visible line describing the latest outcome.
type Status struct {
	Kind    Kind          `json:"kind"`
	Message string        `json:"message"`
	Dismiss time.Duration `json:"dismiss"`
}

// Reporter receives user-facing events. Implementations must be safe
// for concurrent use: a sweep and a batch can report at the same time.
type Reporter interface {
	Progress(op Operation, processed, total int)
	Status(s Status)
	QueueCount(n int)
}

type nopReporter struct{}

func (nopReporter) Progress(Operation, int, int) {}
func (nopReporter) Status(Status)                {}
func (nopReporter) QueueCount(int)               {}

// LogReporter writes events to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

// Progress implements Reporter.
func (r LogReporter) Progress(op Operation, processed, total int) {
	r.Logger.Debug("progress",
		slog.String("op", string(op)),
		slog.Int("processed", processed),
		slog.Int("total", total),
	)
}

// Status implements Reporter. Errors log at error level.
func (r LogReporter) Status(s Status) {
	level := slog.LevelInfo
	if s.Kind == KindError {
		level = slog.LevelError
	}

	r.Logger.Log(context.Background(), level, s.Message, slog.String("kind", string(s.Kind)))
}

// QueueCount implements Reporter.
func (r LogReporter) QueueCount(n int) {
	r.Logger.Info("queue count", slog.Int("pending", n))
}

// MultiReporter fans events out to several reporters in order.
type MultiReporter []Reporter

// Progress implements Reporter.
func (m MultiReporter) Progress(op Operation, processed, total int) {
	for _, r := range m {
		r.Progress(op, processed, total)
	}
}

// Status implements Reporter.
func (m MultiReporter) Status(s Status) {
	for _, r := range m {
		r.Status(s)
	}
}

// QueueCount implements Reporter.
func (m MultiReporter) QueueCount(n int) {
	for _, r := range m {
		r.QueueCount(n)
	}
}
