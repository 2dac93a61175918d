package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

// connectionFlags are shared by every command that talks to one provider.
func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
		&cli.StringFlag{
			Name:    "provider",
			Aliases: []string{"p"},
			Usage:   "The queue provider to use (kafka, rabbitmq, redis or memory)",
			EnvVars: []string{"MQ_PROVIDER"},
			Value:   providerKafka,
		},
		&cli.StringFlag{
			Name:    "broker",
			Aliases: []string{"b"},
			Usage:   "Broker address; overrides the provider's own configuration when set",
			EnvVars: []string{"MQ_BROKER"},
		},
		&cli.StringFlag{
			Name:    "queue",
			Aliases: []string{"q"},
			Usage:   "Topic or queue name; overrides the provider's own configuration when set",
			EnvVars: []string{"MQ_QUEUE"},
		},
		&cli.StringFlag{
			Name:    "group",
			Aliases: []string{"g"},
			Usage:   "Consumer group (kafka only); overrides the provider's own configuration when set",
			EnvVars: []string{"MQ_GROUP"},
		},
		&cli.DurationFlag{
			Name:    "close-timeout",
			Usage:   "How long to wait for in-flight messages when closing",
			EnvVars: []string{"MQ_CLOSE_TIMEOUT"},
			Value:   queue.DefaultCloseTimeout,
		},
	}
}

func metricsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "The host to expose Prometheus metrics on (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "The port to expose Prometheus metrics on",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "The deployment environment, applied as a metrics label",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "The cloud region, applied as a metrics label",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "The cloud provider, applied as a metrics label",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	}
}

func publishFlags() []cli.Flag {
	return append(connectionFlags(),
		&cli.StringFlag{
			Name:    "message",
			Aliases: []string{"M"},
			Usage:   "The message body to publish",
			EnvVars: []string{"MQ_MESSAGE"},
			Value:   "Hi!",
		},
		&cli.StringFlag{
			Name:    "priority",
			Usage:   "Message priority (Low, Medium, High, Critical)",
			EnvVars: []string{"MQ_PRIORITY"},
			Value:   "Low",
		},
		&cli.StringFlag{
			Name:    "destination",
			Aliases: []string{"d"},
			Usage:   "Destination service (A, B, C, D or MicroserviceA..D)",
			EnvVars: []string{"MQ_DESTINATION"},
			Value:   "A",
		},
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"n"},
			Usage:   "How many messages to publish",
			EnvVars: []string{"MQ_COUNT"},
			Value:   1,
		},
		&cli.Int64Flag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Usage:   "Maximum concurrent publishes when count > 1",
			EnvVars: []string{"MQ_CONCURRENCY"},
			Value:   4,
		},
		&cli.DurationFlag{
			Name:    "interval",
			Aliases: []string{"i"},
			Usage:   "Publish once per interval instead of all at once; with count 0 runs until interrupted",
			EnvVars: []string{"MQ_INTERVAL"},
		},
	)
}

func consumeFlags() []cli.Flag {
	return append(connectionFlags(),
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "How long to wait for a message",
			EnvVars: []string{"MQ_CONSUME_TIMEOUT"},
			Value:   queue.DefaultConsumeTimeout,
		},
		&cli.BoolFlag{
			Name:    "follow",
			Aliases: []string{"f"},
			Usage:   "Keep consuming until interrupted",
			EnvVars: []string{"MQ_FOLLOW"},
		},
		&cli.BoolFlag{
			Name:    "skip-malformed",
			Usage:   "Treat a message that cannot be parsed as absent instead of failing",
			EnvVars: []string{"MQ_SKIP_MALFORMED"},
		},
	)
}

func runFlags() []cli.Flag {
	return append(connectionFlags(), metricsFlags()...)
}

func demoFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
		},
		&cli.StringSliceFlag{
			Name:    "providers",
			Usage:   "Providers to run the demo against, in order",
			EnvVars: []string{"MQ_DEMO_PROVIDERS"},
			Value:   cli.NewStringSlice(providerRabbitMQ, providerKafka),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "How long each provider waits for the message",
			EnvVars: []string{"MQ_CONSUME_TIMEOUT"},
			Value:   10 * time.Second,
		},
	}
}
