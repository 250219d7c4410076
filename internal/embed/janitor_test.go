package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRequeuer struct {
	sweeps    atomic.Int64
	requeued  int64
	err       error
	olderThan atomic.Int64
}

func (f *fakeRequeuer) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.sweeps.Add(1)
	f.olderThan.Store(int64(olderThan))
	if f.err != nil {
		return 0, f.err
	}
	return f.requeued, nil
}

func TestJanitorSweepsOnStartupAndSchedule(t *testing.T) {
	t.Parallel()

	queue := &fakeRequeuer{requeued: 2}
	janitor := NewJanitor(queue, 15*time.Minute, testLogger())
	janitor.schedule = "@every 10ms"

	var hook atomic.Int64
	janitor.OnRequeued = func(n int64) { hook.Add(n) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- janitor.Run(ctx) }()

	waitFor(t, 2*time.Second, "janitor never swept twice", func() bool {
		return queue.sweeps.Load() >= 2
	})
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop within 2s")
	}

	if got := time.Duration(queue.olderThan.Load()); got != 15*time.Minute {
		t.Errorf("olderThan = %v, want 15m", got)
	}
	if hook.Load() < 4 { // two sweeps, two rows each
		t.Errorf("OnRequeued total = %d, want >= 4", hook.Load())
	}
}

func TestJanitorSurvivesSweepErrors(t *testing.T) {
	t.Parallel()

	queue := &fakeRequeuer{err: errors.New("db down")}
	janitor := NewJanitor(queue, time.Minute, testLogger())
	janitor.schedule = "@every 10ms"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- janitor.Run(ctx) }()

	waitFor(t, 2*time.Second, "janitor stopped sweeping after errors", func() bool {
		return queue.sweeps.Load() >= 3
	})
	cancel()
	<-done
}

func TestJanitorRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	janitor := NewJanitor(&fakeRequeuer{}, time.Minute, testLogger())
	janitor.schedule = "not a schedule"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := janitor.Run(ctx); err == nil {
		t.Error("Run = nil, want schedule parse error")
	}
}
