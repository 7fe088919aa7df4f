package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func runWithTimeout(t *testing.T, w *Worker, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout + 5*time.Second):
		t.Fatal("worker did not stop")
		return nil
	}
}

func TestNewWorkerValidation(t *testing.T) {
	task := func(context.Context) (bool, error) { return true, nil }

	_, err := NewWorker(WorkerConfig{Period: time.Second, Heartbeat: time.Second}, task, quietLogger())
	assert.Error(t, err)

	_, err = NewWorker(WorkerConfig{Name: "rebalance", Heartbeat: time.Second}, task, quietLogger())
	assert.Error(t, err)

	_, err = NewWorker(WorkerConfig{Name: "rebalance", Period: time.Second}, task, quietLogger())
	assert.Error(t, err)

	w, err := NewWorker(WorkerConfig{Name: "rebalance", Period: time.Second, Heartbeat: time.Second}, task, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "rebalance", w.Name())
}

func TestWorkerCompletedIterationsKeepItAlive(t *testing.T) {
	var calls atomic.Int32
	w, err := NewWorker(WorkerConfig{Name: "acct", Period: 5 * time.Millisecond, Heartbeat: 60 * time.Millisecond},
		func(context.Context) (bool, error) {
			calls.Add(1)
			return true, nil
		}, quietLogger())
	require.NoError(t, err)

	err = runWithTimeout(t, w, 200*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, calls.Load(), int32(5))
}

func TestWorkerMissedHeartbeatIsFatal(t *testing.T) {
	w, err := NewWorker(WorkerConfig{Name: "rebalance", Period: 5 * time.Millisecond, Heartbeat: 40 * time.Millisecond},
		func(context.Context) (bool, error) {
			// never live
			return false, nil
		}, quietLogger())
	require.NoError(t, err)

	err = runWithTimeout(t, w, 2*time.Second)
	assert.ErrorIs(t, err, ErrHeartbeatMissed)
	assert.Contains(t, err.Error(), "rebalance")
}

func TestWorkerBlockedTaskMissesHeartbeat(t *testing.T) {
	w, err := NewWorker(WorkerConfig{Name: "rebalance", Period: time.Millisecond, Heartbeat: 30 * time.Millisecond},
		func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		}, quietLogger())
	require.NoError(t, err)

	err = runWithTimeout(t, w, 2*time.Second)
	assert.ErrorIs(t, err, ErrHeartbeatMissed)
}

func TestWorkerRunWaitsForRunningIteration(t *testing.T) {
	var finished atomic.Bool
	w, err := NewWorker(WorkerConfig{Name: "rebalance", Period: time.Millisecond, Heartbeat: 30 * time.Millisecond},
		func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return false, ctx.Err()
		}, quietLogger())
	require.NoError(t, err)

	err = runWithTimeout(t, w, 2*time.Second)
	assert.ErrorIs(t, err, ErrHeartbeatMissed)
	assert.True(t, finished.Load(), "Run returned while the iteration was still executing")
}

func TestWorkerSuppressesDesignatedErrors(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWorker(WorkerConfig{
		Name:      "rebalance",
		Period:    2 * time.Millisecond,
		Heartbeat: time.Minute,
		Suppress:  []error{domain.ErrAllocationInfeasible},
	}, func(context.Context) (bool, error) {
		if calls.Add(1) == 3 {
			cancel()
		}
		return false, domain.ErrAllocationInfeasible
	}, quietLogger())
	require.NoError(t, err)

	err = w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWorkerPropagatesOtherErrors(t *testing.T) {
	var calls atomic.Int32
	w, err := NewWorker(WorkerConfig{
		Name:      "rebalance",
		Period:    2 * time.Millisecond,
		Heartbeat: time.Minute,
		Suppress:  []error{domain.ErrAllocationInfeasible},
	}, func(context.Context) (bool, error) {
		calls.Add(1)
		return false, domain.Anomalyf("order status for unknown order 7")
	}, quietLogger())
	require.NoError(t, err)

	err = runWithTimeout(t, w, 2*time.Second)
	assert.ErrorIs(t, err, domain.ErrProtocolAnomaly)
	assert.False(t, errors.Is(err, ErrHeartbeatMissed))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWorkerBeatOnlyOnCompletion(t *testing.T) {
	start := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	clock := start
	completed := false

	w, err := NewWorker(WorkerConfig{Name: "acct", Period: time.Minute, Heartbeat: 2 * time.Minute},
		func(context.Context) (bool, error) { return completed, nil }, quietLogger())
	require.NoError(t, err)
	w.now = func() time.Time { return clock }
	w.beat()

	clock = start.Add(30 * time.Second)
	require.NoError(t, w.runOnce(context.Background()))
	assert.Equal(t, start, w.LastBeat())

	completed = true
	require.NoError(t, w.runOnce(context.Background()))
	assert.Equal(t, clock, w.LastBeat())
}
