package uploader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/solara-sync/internal/connectivity"
	apperrors "github.com/alexjbarnes/solara-sync/internal/errors"
	"github.com/alexjbarnes/solara-sync/internal/sheets"
	"github.com/alexjbarnes/solara-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// --- Convergence / partial ---

func TestSweep_Convergence(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(delivered()).Times(4)
	store := testStore(t)
	preload(t, store, 4)
	rep := &recordingReporter{}

	s := NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: online(), Reporter: rep, Logger: testLogger})

	res, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 4, res.Delivered)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.Complete())

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, KindSuccess, res.Status.Kind)
	assert.Equal(t, "Sync complete: 4 uploaded", res.Status.Message)
	assert.Equal(t, []int{3, 2, 1, 0, 0}, rep.counts, "count after every removal, then the final count")
}

func TestSweep_PartialKeepsFailedRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	store := testStore(t)
	preload(t, store, 5)

	failing := map[string]bool{"queued-1.jpg": true, "queued-3.jpg": true}
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rec state.Record) sheets.Result {
			if failing[rec.Nombre] {
				return notDelivered()
			}
			return delivered()
		}).Times(5)

	s := NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: online(), Logger: testLogger})

	res, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Delivered)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Remaining)
	assert.False(t, res.Complete())
	assert.ElementsMatch(t, []string{"queued-1.jpg", "queued-3.jpg"}, queuedNames(t, store))

	assert.Equal(t, KindError, res.Status.Kind)
	assert.Equal(t, "Partial sync: 3 uploaded, 2 failed, 2 pending", res.Status.Message)
	assert.Zero(t, res.Status.Dismiss)
}

func TestSweep_SecondPassDrainsAfterRecovery(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	store := testStore(t)
	preload(t, store, 3)

	gomock.InOrder(
		deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(notDelivered()).Times(3),
		deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(delivered()).Times(3),
	)

	s := NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: online(), Logger: testLogger})

	first, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Remaining)

	second, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Delivered)
	assert.True(t, second.Complete())
}

// --- Skips ---

func TestSweep_OfflineSkips(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := NewMockQueue(ctrl)
	deliverer := NewMockDeliverer(ctrl)

	s := NewSweeper(Deps{Queue: queue, Deliverer: deliverer, Connectivity: offline(), Logger: testLogger})

	res, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.False(t, res.Complete())
}

func TestSweep_EmptyQueueReportsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	rep := &recordingReporter{}
	s := NewSweeper(Deps{Queue: testStore(t), Deliverer: NewMockDeliverer(ctrl), Connectivity: online(), Reporter: rep, Logger: testLogger})

	res, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.True(t, res.Complete())
	assert.Empty(t, rep.statuses)
}

// --- Snapshot semantics ---

func TestSweep_IgnoresRecordsInsertedMidSweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	store := testStore(t)
	preload(t, store, 2)

	inserted := false
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, state.Record) sheets.Result {
			if !inserted {
				inserted = true
				_, err := store.Insert(state.Record{Ciclo: "C", Sector: "S", Ruta: "R", Tecnico: "T", Nombre: "late.jpg", Contenido: "data:,"})
				require.NoError(t, err)
			}
			return delivered()
		}).Times(2)

	s := NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: online(), Logger: testLogger})

	res, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, []string{"late.jpg"}, queuedNames(t, store))
}

func TestSweep_KeyRemovedByOthersIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := NewMockQueue(ctrl)
	deliverer := NewMockDeliverer(ctrl)

	rec := &state.Record{Key: "upload-b", Nombre: "b.jpg"}
	queue.EXPECT().Keys().Return([]string{"upload-a", "upload-b"}, nil)
	queue.EXPECT().Get("upload-a").Return(nil, nil)
	queue.EXPECT().Get("upload-b").Return(rec, nil)
	deliverer.EXPECT().Deliver(gomock.Any(), *rec).Return(delivered())
	queue.EXPECT().Remove("upload-b").Return(nil)
	queue.EXPECT().Count().Return(0, nil).AnyTimes()

	s := NewSweeper(Deps{Queue: queue, Deliverer: deliverer, Connectivity: online(), Logger: testLogger})

	var progress [][2]int
	res, err := s.Sweep(context.Background(), func(p, total int) { progress = append(progress, [2]int{p, total}) })
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progress)
}

// --- Storage errors ---

func TestSweep_StorageErrorsCountAsFailuresAndContinue(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := NewMockQueue(ctrl)
	deliverer := NewMockDeliverer(ctrl)

	storageErr := errors.Join(apperrors.ErrStorage, errors.New("io"))
	recB := &state.Record{Key: "b", Nombre: "b.jpg"}
	recC := &state.Record{Key: "c", Nombre: "c.jpg"}

	queue.EXPECT().Keys().Return([]string{"a", "b", "c"}, nil)
	queue.EXPECT().Get("a").Return(nil, storageErr)
	queue.EXPECT().Get("b").Return(recB, nil)
	queue.EXPECT().Get("c").Return(recC, nil)
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(delivered()).Times(2)
	queue.EXPECT().Remove("b").Return(storageErr)
	queue.EXPECT().Remove("c").Return(nil)
	queue.EXPECT().Count().Return(2, nil).AnyTimes()

	s := NewSweeper(Deps{Queue: queue, Deliverer: deliverer, Connectivity: online(), Logger: testLogger})

	res, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Remaining)
}

func TestSweep_KeysErrorReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := NewMockQueue(ctrl)
	queue.EXPECT().Keys().Return(nil, apperrors.ErrStorage)

	s := NewSweeper(Deps{Queue: queue, Deliverer: NewMockDeliverer(ctrl), Connectivity: online(), Logger: testLogger})

	_, err := s.Sweep(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.False(t, s.Running(), "guard is released after an error")
}

// --- Re-entrancy ---

func TestSweep_ConcurrentTriggerCoalesces(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	store := testStore(t)
	preload(t, store, 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	first := true
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, state.Record) sheets.Result {
			if first {
				first = false
				close(entered)
				<-release
			}
			return delivered()
		}).Times(2)

	s := NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: online(), Logger: testLogger})

	done := make(chan SweepResult, 1)
	go func() {
		res, err := s.Sweep(context.Background(), nil)
		assert.NoError(t, err)
		done <- res
	}()

	<-entered
	assert.True(t, s.Running())

	_, err := s.Sweep(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrSweepRunning)

	_, err = s.Sweep(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrSweepRunning)

	close(release)
	res := <-done
	assert.Equal(t, 2, res.Delivered, "each record delivered exactly once")
	assert.True(t, res.Complete())
	assert.False(t, s.Running())
}

func TestSweep_ReconnectDuringPassRunsAgain(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	store := testStore(t)
	preload(t, store, 3)

	entered := make(chan struct{})
	release := make(chan struct{})

	var calls atomic.Int32
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, state.Record) sheets.Result {
			n := calls.Add(1)
			if n == 1 {
				close(entered)
				<-release
			}
			// The link drops during the first pass.
			if n <= 3 {
				return notDelivered()
			}
			return delivered()
		}).Times(6)

	results := make(chan SweepResult, 2)

	var sweeper *Sweeper
	monitor := connectivity.NewMonitor(connectivity.Config{
		OnOnline: func() {
			res, err := sweeper.Sweep(context.Background(), nil)
			if err == nil {
				results <- res
			}
		},
	}, testLogger)

	sweeper = NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: monitor, Logger: testLogger})

	monitor.Set(true)
	<-entered
	require.True(t, sweeper.Running())

	monitor.Set(false)
	monitor.Set(true)

	// The second trigger finds the first sweep running.
	require.Eventually(t, func() bool {
		return sweeper.rerun.Load()
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	monitor.Wait()

	require.Len(t, results, 1)
	res := <-results
	assert.Equal(t, 3, res.Delivered)
	assert.True(t, res.Complete())

	n, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, n, "queue must drain while the link is up")
	assert.False(t, sweeper.Running())
}

func TestSweep_NoExtraPassWhenOfflineAfterPass(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	store := testStore(t)
	preload(t, store, 1)
	conn := online()

	entered := make(chan struct{})
	release := make(chan struct{})
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, state.Record) sheets.Result {
			close(entered)
			<-release
			return notDelivered()
		}).Times(1)

	s := NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: conn, Logger: testLogger})

	done := make(chan SweepResult, 1)
	go func() {
		res, _ := s.Sweep(context.Background(), nil)
		done <- res
	}()

	<-entered
	_, err := s.Sweep(context.Background(), nil)
	require.ErrorIs(t, err, apperrors.ErrSweepRunning)

	conn.online.Store(false)
	close(release)

	res := <-done
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Remaining)
	assert.False(t, s.Running())
}

// --- Cancellation ---

func TestSweep_CancelledStopsAndKeepsRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	store := testStore(t)
	preload(t, store, 3)

	ctx, cancel := context.WithCancel(context.Background())
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, state.Record) sheets.Result {
			cancel()
			return delivered()
		})

	s := NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: online(), Logger: testLogger})

	res, err := s.Sweep(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 2, res.Remaining)
}

// --- Reconnect scenario ---

func TestReconnectSync_DrainsQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	deliverer := NewMockDeliverer(ctrl)
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(delivered()).Times(5)
	store := testStore(t)
	preload(t, store, 5)

	results := make(chan SweepResult, 1)

	var sweeper *Sweeper
	monitor := connectivity.NewMonitor(connectivity.Config{
		OnOnline: func() {
			res, err := sweeper.Sweep(context.Background(), nil)
			assert.NoError(t, err)
			results <- res
		},
	}, testLogger)

	sweeper = NewSweeper(Deps{Queue: store, Deliverer: deliverer, Connectivity: monitor, Logger: testLogger})

	monitor.Set(false)
	monitor.Set(true)
	monitor.Wait()

	select {
	case res := <-results:
		assert.Equal(t, 5, res.Delivered)
		assert.True(t, res.Complete())
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not run on reconnect")
	}

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
