package uploader

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alexjbarnes/solara-sync/internal/state"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeConn struct {
	online atomic.Bool
}

func (c *fakeConn) Online() bool { return c.online.Load() }

func online() *fakeConn {
	c := &fakeConn{}
	c.online.Store(true)
	return c
}

func offline() *fakeConn { return &fakeConn{} }

// recordingReporter captures every event for assertions.
type recordingReporter struct {
	mu       sync.Mutex
	progress [][2]int
	statuses []Status
	counts   []int
}

func (r *recordingReporter) Progress(_ Operation, processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, [2]int{processed, total})
}

func (r *recordingReporter) Status(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingReporter) QueueCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, n)
}

func (r *recordingReporter) lastStatus() (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Status{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

func (r *recordingReporter) lastCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counts) == 0 {
		return -1
	}
	return r.counts[len(r.counts)-1]
}

func testStore(t *testing.T) *state.State {
	t.Helper()
	s, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testFiles(n int) []File {
	files := make([]File, n)
	for i := range files {
		files[i] = File{
			Name: fmt.Sprintf("foto-%d.jpg", i),
			Data: []byte(fmt.Sprintf("jpeg bytes %d", i)),
		}
	}
	return files
}

func testBatch(n int) Batch {
	return Batch{
		Ciclo:   "C1",
		Sector:  "S1",
		Ruta:    "R1",
		Tecnico: "Ana",
		Files:   testFiles(n),
	}
}

func preload(t *testing.T, s *state.State, n int) []string {
	t.Helper()
	keys := make([]string, n)
	for i := range keys {
		key, err := s.Insert(state.Record{
			Ciclo:     "C1",
			Sector:    "S1",
			Ruta:      "R1",
			Tecnico:   "Ana",
			Nombre:    fmt.Sprintf("queued-%d.jpg", i),
			Contenido: "data:image/jpeg;base64,AAAA",
		})
		require.NoError(t, err)
		keys[i] = key
	}
	return keys
}

func queuedNames(t *testing.T, s *state.State) []string {
	t.Helper()
	records, err := s.Records()
	require.NoError(t, err)
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Nombre
	}
	return names
}
