package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/mqprovider/pkg/queue"
	"github.com/ava-labs/mqprovider/pkg/utils"
)

func consume(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose, "consume")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"provider", cfg.Provider,
		"broker", cfg.Broker,
		"queue", cfg.Queue,
		"group", cfg.Group,
		"timeout", cfg.ConsumeTimeout,
		"follow", cfg.Follow,
		"skipMalformed", cfg.SkipMalformed,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []queue.Option
	if cfg.Follow {
		opts = append(opts, queue.WithMode(queue.Continuous))
	}
	p, err := openProvider(ctx, cfg, sugar, queue.RoleConsumer, opts...)
	if err != nil {
		return err
	}
	defer dispose(p, cfg.CloseTimeout)

	if cfg.Follow {
		// Returns nil once interrupted
		return p.ConsumeUntilCancelled(ctx)
	}

	got, err := p.ConsumeOnce(ctx, cfg.ConsumeTimeout)
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		return nil
	}
	if err != nil {
		return err
	}
	if got != nil {
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", got.Decision.HandledBy, got.Envelope.Body)
	}
	return nil
}
