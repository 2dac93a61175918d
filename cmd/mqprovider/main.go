package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "mqprovider",
		Usage: "Publish and consume routed messages through Kafka, RabbitMQ or Redis",
		Commands: []*cli.Command{
			{
				Name:   "publish",
				Usage:  "Publish one or more messages",
				Flags:  publishFlags(),
				Action: publish,
			},
			{
				Name:   "consume",
				Usage:  "Consume a single message, or keep consuming with --follow",
				Flags:  consumeFlags(),
				Action: consume,
			},
			{
				Name:   "run",
				Usage:  "Run a long-lived consumer with a Prometheus metrics endpoint",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "demo",
				Usage:  "Publish \"Hi!\" and consume it once on each provider",
				Flags:  demoFlags(),
				Action: demo,
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openProvider builds the configured driver and opens a provider on it.
// Providers always log their events through log; opts are applied after the
// config's own options.
func openProvider(
	ctx context.Context,
	cfg *Config,
	log *zap.SugaredLogger,
	role queue.Role,
	opts ...queue.Option,
) (*queue.Provider, error) {
	driver, err := newDriver(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	all := []queue.Option{
		queue.WithLogger(log),
		queue.WithObserver(queue.NewLoggingObserver(log)),
	}
	all = append(all, cfg.ProviderOptions()...)
	all = append(all, opts...)

	p := queue.New(driver, all...)
	if err := p.Open(ctx, role); err != nil {
		dispose(p, cfg.CloseTimeout)
		return nil, fmt.Errorf("failed to open %s provider: %w", driver.Name(), err)
	}
	return p, nil
}

// dispose releases p with a fresh deadline, since the command context is
// usually cancelled by then.
func dispose(p *queue.Provider, timeout time.Duration) {
	if timeout <= 0 {
		timeout = queue.DefaultCloseTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	p.Dispose(ctx)
}
