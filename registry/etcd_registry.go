package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	logPrefix = "registry:etcd"
	keyRoot   = "/peer-rpc/"
)

func servicePrefix(service string) string { return keyRoot + service + "/" }

// EtcdRegistry implements the Registry interface using etcd v3.
//
// etcd is a distributed key-value store that provides strong consistency (Raft protocol).
// We use it as a "distributed phonebook" for peers:
//
//	Key:   /peer-rpc/{service}/{addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if the peer crashes, the lease expires
// and the entry is automatically removed, so no ghost endpoints remain.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease kept alive by this process
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect to etcd %v", endpoints)
	}
	return &EtcdRegistry{client: c, leases: make(map[string]clientv3.LeaseID)}, nil
}

// Register stores ep under a lease of ttl seconds and keeps the lease alive
// in the background until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "grant lease")
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	key := servicePrefix(service) + ep.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	// KeepAlive must outlive ctx, which may be a request-scoped context
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return errors.Wrap(err, "keep alive")
	}
	go func() {
		for range ch {
		}
		slog.Debug(fmt.Sprintf("%s - lease for %s ended", logPrefix, key))
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - registered %s (ttl %ds)", logPrefix, key, ttl))
	return nil
}

// Deregister removes an endpoint and revokes its lease if this process owns it.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	key := servicePrefix(service) + addr
	r.mu.Lock()
	id, owned := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if owned {
		// revoking deletes the key and stops KeepAlive
		if _, err := r.client.Revoke(ctx, id); err == nil {
			return nil
		}
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

// Watch emits the full endpoint list whenever the service's keys change,
// until ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix())
		for range watchChan {
			// re-fetch the full list rather than applying individual events
			eps, err := r.Discover(ctx, service)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - watch %s: %v", logPrefix, service, err))
				continue
			}
			select {
			case ch <- eps:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered endpoints for a service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "discover %s", service)
	}

	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			slog.Warn(fmt.Sprintf("%s - skipping malformed entry %s: %v", logPrefix, kv.Key, err))
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Close revokes every lease this process holds and closes the client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]clientv3.LeaseID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for key, id := range leases {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			slog.Warn(fmt.Sprintf("%s - revoke %s: %v", logPrefix, key, err))
		}
	}
	return r.client.Close()
}
