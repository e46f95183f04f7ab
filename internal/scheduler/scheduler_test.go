package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notice_ingest/internal/domain"
)

type countingRunner struct {
	calls    atomic.Int32
	deadline atomic.Bool
	err      error
}

func (r *countingRunner) Run(ctx context.Context) (*domain.RunStats, error) {
	r.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		r.deadline.Store(true)
	}
	return &domain.RunStats{RunID: "test"}, r.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStart_RunsImmediatelyAndOnTicks(t *testing.T) {
	runner := &countingRunner{}
	sched := NewScheduler(runner, 10*time.Millisecond, time.Second, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.True(t, runner.deadline.Load())
}

func TestStart_ContinuesAfterFailedPass(t *testing.T) {
	runner := &countingRunner{err: errors.New("sink down")}
	sched := NewScheduler(runner, 10*time.Millisecond, time.Second, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Start(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
