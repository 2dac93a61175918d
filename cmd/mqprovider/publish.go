package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ava-labs/mqprovider/pkg/queue"
	"github.com/ava-labs/mqprovider/pkg/scheduler"
	"github.com/ava-labs/mqprovider/pkg/utils"
)

func publish(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose, "publish")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"provider", cfg.Provider,
		"broker", cfg.Broker,
		"queue", cfg.Queue,
		"priority", cfg.Priority.String(),
		"destination", cfg.Destination.String(),
		"count", cfg.Count,
		"concurrency", cfg.Concurrency,
		"interval", cfg.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openProvider(ctx, cfg, sugar, queue.RoleProducer)
	if err != nil {
		return err
	}
	defer dispose(p, cfg.CloseTimeout)

	if cfg.Interval > 0 {
		err = publishPeriodically(ctx, p, cfg)
	} else {
		err = publishBatch(ctx, p, cfg)
	}
	if errors.Is(err, context.Canceled) || (err == nil && ctx.Err() != nil) {
		sugar.Infow("exiting due to context cancellation")
		return nil
	}
	return err
}

// publishBatch publishes cfg.Count messages with at most cfg.Concurrency
// sends in flight.
func publishBatch(ctx context.Context, p *queue.Provider, cfg *Config) error {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= cfg.Count; i++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		body := messageBody(cfg.Message, i, cfg.Count)
		g.Go(func() error {
			defer sem.Release(1)
			return p.Publish(gctx, body, cfg.Priority, cfg.Destination)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// publishPeriodically publishes one message per interval until cfg.Count
// messages are sent, or until ctx is done when cfg.Count is 0.
func publishPeriodically(ctx context.Context, p *queue.Provider, cfg *Config) error {
	opts := scheduler.DefaultOptions()
	opts.Limit = cfg.Count
	return scheduler.Start(ctx, cfg.Interval, func(ctx context.Context, run int) error {
		return p.Publish(ctx, messageBody(cfg.Message, run, cfg.Count), cfg.Priority, cfg.Destination)
	}, opts)
}

// messageBody numbers the body when more than one message is published.
func messageBody(base string, n, count int) string {
	if count == 1 {
		return base
	}
	return fmt.Sprintf("%s #%d", base, n)
}
