package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"peer-rpc/config"
	"peer-rpc/message"
	"peer-rpc/peer"
	"peer-rpc/registry"
	"peer-rpc/rpcerr"
	"peer-rpc/transport"
)

var invokeCommand = &cli.Command{
	Name:      "invoke",
	Usage:     "call a function (or, with --stream, send a file) and print the result",
	ArgsUsage: "METHOD [JSON-BODY | FILE]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "stream", Usage: "send FILE as a single STREAM chunk"},
		&cli.BoolFlag{Name: "lookup", Usage: "find the peer in etcd under --service"},
		&cli.StringFlag{Name: "order-key", Usage: "order key of the request"},
	},
	Action: invoke,
}

// resolve fills the dial target from the registry.
func resolve(ctx context.Context, cfg *config.Config) error {
	if len(cfg.EtcdEndpoints) == 0 {
		return errors.Wrap(rpcerr.ErrConfiguration, "--lookup needs etcd endpoints")
	}
	reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
	if err != nil {
		return err
	}
	defer reg.Close()
	ep, err := registry.Lookup(ctx, reg, cfg.ServiceName)
	if err != nil {
		return err
	}
	cfg.Transport = ep.Transport
	switch ep.Transport {
	case "tcp":
		cfg.Addr = ep.Addr
	case "nats":
		cfg.NATSURL, cfg.RemoteSubject = ep.Addr, ep.Subject
	}
	return nil
}

func dial(ctx context.Context, cfg *config.Config) (transport.Transport, func(), error) {
	if cfg.Transport == "tcp" {
		tr, err := transport.Dial(ctx, "tcp", cfg.Addr, &transport.Options{Heartbeat: cfg.Heartbeat})
		if err != nil {
			return nil, nil, err
		}
		return tr, func() {}, nil
	}
	nc, err := transport.ConnectNATS(cfg.NATSURL, "peerctl", nil)
	if err != nil {
		return nil, nil, err
	}
	tr, err := transport.NewNATSTransport(nc, cfg.LocalSubject, cfg.RemoteSubject)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return tr, nc.Close, nil
}

func invoke(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.Wrap(rpcerr.ErrConfiguration, "missing METHOD")
	}
	method, arg := c.Args().Get(0), c.Args().Get(1)

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	if c.Bool("lookup") {
		if err := resolve(ctx, cfg); err != nil {
			return err
		}
	}
	if cfg.Transport == "nats" && cfg.LocalSubject == "" {
		cfg.LocalSubject = nats.NewInbox()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tr, cleanup, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	p := peer.New(tr, peer.OptionsFromConfig(cfg))
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Close()

	var opts []peer.CallOption
	if c.IsSet("order-key") {
		opts = append(opts, peer.WithOrderKey(c.String("order-key")))
	}

	var result any
	if c.Bool("stream") {
		chunk, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		md := message.StreamMetadata{ResourceName: filepath.Base(arg), Length: int64(len(chunk))}
		result, err = p.InvokeStream(ctx, method, md, chunk, opts...)
		if err != nil {
			return describe(err)
		}
	} else {
		var body any
		if arg != "" {
			if err := json.Unmarshal([]byte(arg), &body); err != nil {
				// not JSON: send it as a plain string
				body = arg
			}
		}
		result, err = p.Invoke(ctx, method, body, opts...)
		if err != nil {
			return describe(err)
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

// describe adds the remote traceback to failures reported by the other peer.
func describe(err error) error {
	var re *rpcerr.RemoteError
	if errors.As(err, &re) && re.Traceback != "" {
		return fmt.Errorf("%w\n%s", err, re.Traceback)
	}
	return err
}
