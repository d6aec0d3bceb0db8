package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJobs(t *testing.T) {
	var count int32
	sched := NewScheduler(10*time.Millisecond, nil)
	sched.Add("count", func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	sched.Add("failing", func(ctx context.Context) error {
		return errors.New("always fails")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sched.Start(ctx)
	if c := atomic.LoadInt32(&count); c == 0 {
		t.Fatalf("expected jobs to run, got %d", c)
	}
}

func TestSchedulerDefaultInterval(t *testing.T) {
	sched := NewScheduler(0, nil)
	if sched.interval != time.Minute {
		t.Fatalf("expected default interval, got %s", sched.interval)
	}
}
