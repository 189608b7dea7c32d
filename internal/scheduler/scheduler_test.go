package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunInvokesTicks(t *testing.T) {
	job := New(Options{Name: "test", Interval: 20 * time.Millisecond}, zerolog.Nop())

	ticks := make(chan time.Time, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- job.Run(ctx, func(_ context.Context, bucket time.Time) error {
			ticks <- bucket
			return nil
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop on cancellation")
	}
}

func TestRunSurvivesTickErrors(t *testing.T) {
	job := New(Options{Name: "test", Interval: 10 * time.Millisecond}, zerolog.Nop())

	calls := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Run(ctx, func(context.Context, time.Time) error {
		calls <- struct{}{}
		return errors.New("tick failed")
	})

	for i := 0; i < 3; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("job stopped after a tick error")
		}
	}
}

func TestAlignedBuckets(t *testing.T) {
	job := New(Options{Name: "test", Interval: 25 * time.Millisecond, AlignToStart: true}, zerolog.Nop())

	buckets := make(chan time.Time, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Run(ctx, func(_ context.Context, bucket time.Time) error {
		buckets <- bucket
		return nil
	})

	select {
	case b := <-buckets:
		if !b.Equal(b.Truncate(25 * time.Millisecond)) {
			t.Fatalf("bucket %v not aligned to interval", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for aligned tick")
	}
}

func TestNewPanicsOnBadInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive interval")
		}
	}()
	New(Options{Name: "bad"}, zerolog.Nop())
}
