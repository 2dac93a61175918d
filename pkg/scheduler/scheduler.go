package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultBackoff        = 300 * time.Millisecond
)

// Task is run once per tick. run counts ticks from 1.
type Task func(ctx context.Context, run int) error

// Options bounds each run of a Task.
type Options struct {
	AttemptTimeout time.Duration // Per attempt; 0 disables the timeout
	MaxRetries     int           // Retries after the first failed attempt
	Backoff        time.Duration // Pause between attempts
	Limit          int           // Stop after Limit runs; 0 runs until ctx is done
}

// DefaultOptions returns the options used by the publish command.
func DefaultOptions() Options {
	return Options{
		AttemptTimeout: DefaultAttemptTimeout,
		MaxRetries:     DefaultMaxRetries,
		Backoff:        DefaultBackoff,
	}
}

// Start runs task every interval until ctx is done or Limit runs completed.
// A run that still fails after MaxRetries retries stops the scheduler and its
// error is returned. Cancellation returns nil.
func Start(ctx context.Context, interval time.Duration, task Task, opts Options) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be > 0, got %s", interval)
	}
	if task == nil {
		return errors.New("task cannot be nil")
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for run := 1; opts.Limit == 0 || run <= opts.Limit; run++ {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		var err error
		for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
			err = runAttempt(ctx, task, run, opts.AttemptTimeout)
			if err == nil || ctx.Err() != nil {
				break
			}
			if attempt < opts.MaxRetries {
				select {
				case <-ctx.Done():
				case <-time.After(opts.Backoff):
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run %d failed after %d attempts: %w", run, opts.MaxRetries+1, err)
		}
	}
	return nil
}

func runAttempt(ctx context.Context, task Task, run int, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return task(ctx, run)
}
