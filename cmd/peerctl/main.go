// Command peerctl serves and calls peers over TCP or NATS.
//
//	peerctl serve                          # tcp on $PEER_ADDR
//	peerctl --transport nats serve --local-subject a --remote-subject b
//	peerctl invoke add '[2, 3]'
//	peerctl invoke --stream stat ./file.bin
//
// Settings come from PEER_* environment variables; flags override them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"peer-rpc/config"
)

const logPrefix = "peerctl:main"

func main() {
	app := &cli.App{
		Name:  "peerctl",
		Usage: "serve and call RPC peers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "transport", Usage: "tcp or nats"},
			&cli.StringFlag{Name: "addr", Usage: "tcp listen/dial address"},
			&cli.StringFlag{Name: "nats-url", Usage: "NATS server URL"},
			&cli.StringFlag{Name: "local-subject", Usage: "NATS subject this peer receives on"},
			&cli.StringFlag{Name: "remote-subject", Usage: "NATS subject of the other peer"},
			&cli.BoolFlag{Name: "compress", Usage: "compress outgoing messages"},
			&cli.DurationFlag{Name: "exec-timeout", Usage: "reply deadline of outbound calls"},
			&cli.IntFlag{Name: "max-concurrency", Usage: "outbound and inbound concurrency cap"},
			&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoints for service registration"},
			&cli.StringFlag{Name: "service", Usage: "service name in the registry"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Commands: []*cli.Command{
			serveCommand,
			invokeCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
		os.Exit(1)
	}
}

// loadConfig reads PEER_* variables, applies any flags that were set and
// installs the default logger. Commands validate the result themselves.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if c.IsSet("transport") {
		cfg.Transport = c.String("transport")
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("nats-url") {
		cfg.NATSURL = c.String("nats-url")
	}
	if c.IsSet("local-subject") {
		cfg.LocalSubject = c.String("local-subject")
	}
	if c.IsSet("remote-subject") {
		cfg.RemoteSubject = c.String("remote-subject")
	}
	if c.IsSet("compress") {
		cfg.Compress = c.Bool("compress")
	}
	if c.IsSet("exec-timeout") {
		cfg.ExecTimeout = c.Duration("exec-timeout")
	}
	if c.IsSet("max-concurrency") {
		cfg.MaxConcurrency = c.Int("max-concurrency")
	}
	if c.IsSet("etcd") {
		cfg.EtcdEndpoints = c.StringSlice("etcd")
	}
	if c.IsSet("service") {
		cfg.ServiceName = c.String("service")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))
	return cfg, nil
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
