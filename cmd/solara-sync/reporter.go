package main

import (
	"fmt"
	"io"

	"github.com/alexjbarnes/solara-sync/internal/uploader"
)

// consoleReporter prints progress for one-shot commands. Final status
// lines are printed by the commands themselves.
type consoleReporter struct {
	w io.Writer
}

func (r consoleReporter) Progress(op uploader.Operation, processed, total int) {
	fmt.Fprintf(r.w, "%s %d/%d\n", op, processed, total)
}

func (r consoleReporter) Status(st uploader.Status) {
	if st.Kind == uploader.KindProgress {
		fmt.Fprintln(r.w, st.Message)
	}
}

func (consoleReporter) QueueCount(int) {}
