package registry

import (
	"context"
	"sync"
)

// MemoryRegistry keeps endpoints in process, for tests and single-host
// setups. TTLs are ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	endpoints map[string][]Endpoint
	watchers  map[string][]chan []Endpoint
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		endpoints: make(map[string][]Endpoint),
		watchers:  make(map[string][]chan []Endpoint),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := m.endpoints[service]
	for i := range eps {
		if eps[i].Addr == ep.Addr {
			eps[i] = ep
			m.notify(service)
			return nil
		}
	}
	m.endpoints[service] = append(eps, ep)
	m.notify(service)
	return nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, service string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := m.endpoints[service]
	for i, ep := range eps {
		if ep.Addr == addr {
			m.endpoints[service] = append(eps[:i:i], eps[i+1:]...)
			m.notify(service)
			break
		}
	}
	return nil
}

func (m *MemoryRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Endpoint(nil), m.endpoints[service]...), nil
}

// Watch emits the endpoint list after every change until ctx ends. Slow
// watchers only see the latest list.
func (m *MemoryRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	m.mu.Lock()
	m.watchers[service] = append(m.watchers[service], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		ws := m.watchers[service]
		for i, w := range ws {
			if w == ch {
				m.watchers[service] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify must be called with m.mu held.
func (m *MemoryRegistry) notify(service string) {
	list := append([]Endpoint(nil), m.endpoints[service]...)
	for _, ch := range m.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
