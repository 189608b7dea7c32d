package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the tick's bucket start.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune a periodic job.
type Options struct {
	Name         string
	Interval     time.Duration
	AlignToStart bool // align ticks to interval boundaries (UTC)
	StartupDelay time.Duration
}

// Job drives a single periodic task. Tick errors are logged, never fatal.
type Job struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Job.
func New(opts Options, logger zerolog.Logger) *Job {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Job{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("job", opts.Name).Logger(),
	}
}

// Run blocks, invoking tick at every interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context, tick TickFunc) error {
	if j.opts.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.opts.StartupDelay):
		}
	}

	next := j.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = j.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		bucket := next
		if j.opts.AlignToStart {
			bucket = bucket.Truncate(j.opts.Interval)
		}
		if err := tick(ctx, bucket); err != nil {
			j.logger.Error().Err(err).Time("bucket", bucket).Msg("tick failed")
		}

		next = next.Add(j.opts.Interval)
	}
}

func (j *Job) nextTick(now time.Time) time.Time {
	if !j.opts.AlignToStart {
		return now.Add(j.opts.Interval)
	}
	bucket := now.Truncate(j.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(j.opts.Interval)
	}
	return bucket
}
