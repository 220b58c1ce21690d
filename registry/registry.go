// Package registry publishes where peers can be reached.
//
// A peer that serves a named service registers one Endpoint per listening
// address or NATS subject; a caller looks the service up and dials the
// endpoint's transport.
package registry

import (
	"context"

	"github.com/pkg/errors"
)

var ErrNoEndpoints = errors.New("no endpoints registered")

// Endpoint says how to reach one peer.
type Endpoint struct {
	Addr      string `json:"addr"`              // host:port for tcp, server URL for nats
	Transport string `json:"transport"`         // "tcp" or "nats"
	Subject   string `json:"subject,omitempty"` // subject the serving peer listens on (nats only)
}

type Registry interface {
	Register(ctx context.Context, service string, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	Watch(ctx context.Context, service string) <-chan []Endpoint
}

// Lookup returns the first endpoint registered for service.
func Lookup(ctx context.Context, reg Registry, service string) (Endpoint, error) {
	eps, err := reg.Discover(ctx, service)
	if err != nil {
		return Endpoint{}, err
	}
	if len(eps) == 0 {
		return Endpoint{}, errors.Wrapf(ErrNoEndpoints, "service %q", service)
	}
	return eps[0], nil
}
