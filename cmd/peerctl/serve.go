package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"peer-rpc/config"
	"peer-rpc/peer"
	"peer-rpc/registry"
	"peer-rpc/transport"
)

const registrationTTL = 10 // seconds

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "serve echo, add, stat and Arith.* until interrupted",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "shutdown-timeout", Value: 10 * time.Second, Usage: "how long to wait for running handlers"},
	},
	Action: serve,
}

// peerSet tracks live peers so that all of them can be shut down together.
type peerSet struct {
	mu    sync.Mutex
	peers map[*peer.Peer]struct{}
}

func (s *peerSet) add(p *peer.Peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	go func() {
		<-p.Done()
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
	}()
}

func (s *peerSet) shutdown(timeout time.Duration) {
	s.mu.Lock()
	peers := make([]*peer.Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer.Peer) {
			defer wg.Done()
			if err := p.Shutdown(timeout); err != nil {
				slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
			}
		}(p)
	}
	wg.Wait()
}

// startPeer serves the demo handlers over tr. Handler contexts are not tied to
// the signal context; shutdown gives them a grace period instead.
func startPeer(cfg *config.Config, tr transport.Transport) (*peer.Peer, error) {
	p := peer.New(tr, peer.OptionsFromConfig(cfg))
	if err := installHandlers(p); err != nil {
		tr.Close()
		return nil, err
	}
	if err := p.Start(context.Background()); err != nil {
		tr.Close()
		return nil, err
	}
	return p, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	peers := &peerSet{peers: make(map[*peer.Peer]struct{})}
	var ep registry.Endpoint

	switch cfg.Transport {
	case "tcp":
		ln, err := transport.Listen("tcp", cfg.Addr, &transport.Options{Heartbeat: cfg.Heartbeat})
		if err != nil {
			return err
		}
		defer ln.Close()
		ep = registry.Endpoint{Addr: ln.Addr().String(), Transport: "tcp"}
		slog.Info(fmt.Sprintf("%s - listening on %s", logPrefix, ep.Addr))

		go func() {
			for {
				tr, err := ln.Accept()
				if err != nil {
					if ctx.Err() == nil {
						slog.Error(fmt.Sprintf("%s - accept: %v", logPrefix, err))
						stop()
					}
					return
				}
				slog.Info(fmt.Sprintf("%s - peer connected from %s", logPrefix, tr.RemoteAddr()))
				p, err := startPeer(cfg, tr)
				if err != nil {
					slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
					continue
				}
				peers.add(p)
			}
		}()

	case "nats":
		nc, err := transport.ConnectNATS(cfg.NATSURL, cfg.ServiceName, stop)
		if err != nil {
			return err
		}
		defer nc.Close()
		tr, err := transport.NewNATSTransport(nc, cfg.LocalSubject, cfg.RemoteSubject)
		if err != nil {
			return err
		}
		p, err := startPeer(cfg, tr)
		if err != nil {
			return err
		}
		peers.add(p)
		ep = registry.Endpoint{Addr: cfg.NATSURL, Transport: "nats", Subject: cfg.LocalSubject}
		slog.Info(fmt.Sprintf("%s - serving on %s", logPrefix, cfg.LocalSubject))

		go func() {
			<-p.Done()
			stop()
		}()
	}

	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer reg.Close()
		if err := reg.Register(ctx, cfg.ServiceName, ep, registrationTTL); err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := reg.Deregister(dctx, cfg.ServiceName, ep.Addr); err != nil {
				slog.Warn(fmt.Sprintf("%s - deregister: %v", logPrefix, err))
			}
		}()
	}

	<-ctx.Done()
	slog.Info(fmt.Sprintf("%s - shutting down", logPrefix))
	peers.shutdown(c.Duration("shutdown-timeout"))
	return nil
}
