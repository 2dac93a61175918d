package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/message"
	"github.com/ava-labs/mqprovider/pkg/queue"
	"github.com/ava-labs/mqprovider/pkg/utils"
)

const demoMessage = "Hi!"

func demo(c *cli.Context) error {
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"), "demo")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timeout := c.Duration("timeout")
	for _, name := range c.StringSlice("providers") {
		cfg := &Config{Provider: name, CloseTimeout: queue.DefaultCloseTimeout}
		if err := demoProvider(ctx, cfg, timeout, sugar.With("provider", name)); err != nil {
			return fmt.Errorf("%s demo failed: %w", name, err)
		}
	}
	return nil
}

// demoProvider publishes the demo message and consumes once on one provider.
func demoProvider(ctx context.Context, cfg *Config, timeout time.Duration, log *zap.SugaredLogger) error {
	p, err := openProvider(ctx, cfg, log, queue.RoleBoth)
	if err != nil {
		return err
	}
	defer dispose(p, cfg.CloseTimeout)

	if err := p.Publish(ctx, demoMessage, message.High, message.ServiceC); err != nil {
		return err
	}

	got, err := p.ConsumeOnce(ctx, timeout)
	if err != nil {
		return err
	}
	if got == nil {
		log.Warnw("demo message not received in time", "timeout", timeout)
	}
	return nil
}
