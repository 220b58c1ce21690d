package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	ep1 := Endpoint{Addr: "127.0.0.1:8001", Transport: "tcp"}
	ep2 := Endpoint{Addr: "127.0.0.1:8002", Transport: "tcp"}
	reg.Register(ctx, "Arith", ep1, 10)
	reg.Register(ctx, "Arith", ep2, 10)
	// re-registration replaces instead of duplicating
	reg.Register(ctx, "Arith", ep1, 10)

	eps, _ := reg.Discover(ctx, "Arith")
	if len(eps) != 2 {
		t.Fatalf("expect 2 endpoints, got %v", eps)
	}

	reg.Deregister(ctx, "Arith", ep1.Addr)
	eps, _ = reg.Discover(ctx, "Arith")
	if len(eps) != 1 || eps[0] != ep2 {
		t.Fatalf("expect %v, got %v", ep2, eps)
	}
}

func TestLookup(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	if _, err := Lookup(ctx, reg, "Arith"); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("expect ErrNoEndpoints, got %v", err)
	}

	ep := Endpoint{Addr: "nats://127.0.0.1:4222", Transport: "nats", Subject: "arith.server"}
	reg.Register(ctx, "Arith", ep, 10)
	got, err := Lookup(ctx, reg, "Arith")
	if err != nil || got != ep {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ch := reg.Watch(ctx, "Arith")

	ep := Endpoint{Addr: "127.0.0.1:8001", Transport: "tcp"}
	reg.Register(context.Background(), "Arith", ep, 10)

	select {
	case eps := <-ch:
		if len(eps) != 1 || eps[0] != ep {
			t.Fatalf("got %v", eps)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch event")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// a pending update may still be buffered; the next read must see the close
			if _, ok := <-ch; ok {
				t.Fatal("watch channel not closed")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
