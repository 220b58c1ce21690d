package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"peer-rpc/rpcerr"
)

// startTestServer starts an in-process NATS server on a random port.
func startTestServer(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("transport:nats_test - failed to create server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("transport:nats_test - server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("transport:nats_test - failed to connect: %v", err)
	}

	return nc, func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
}

func natsPair(t *testing.T, nc *nats.Conn) (*NATSTransport, *NATSTransport) {
	t.Helper()
	a, err := NewNATSTransport(nc, "peer.a", "peer.b")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewNATSTransport(nc, "peer.b", "peer.a")
	if err != nil {
		t.Fatal(err)
	}
	return a, b
}

func TestNATSOrdered(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	a, b := natsPair(t, nc)
	defer a.Close()
	defer b.Close()
	testOrdered(t, a, b)
	testOrdered(t, b, a)
}

func TestNATSConcurrentSend(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	a, b := natsPair(t, nc)
	defer a.Close()
	defer b.Close()
	testConcurrentSend(t, a, b)
}

func TestNATSDropsMalformed(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	a, b := natsPair(t, nc)
	defer a.Close()
	defer b.Close()

	if err := nc.Publish("peer.b", []byte("not a frame")); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(context.Background(), frame(7)); err != nil {
		t.Fatal(err)
	}
	if f := recvOne(t, b); string(f.Header) != "h7" {
		t.Fatalf("got %q", f.Header)
	}
}

func TestNATSClose(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	a, b := natsPair(t, nc)
	defer b.Close()
	a.Close()

	waitClosed(t, a)
	if err := a.Send(context.Background(), frame(1)); !errors.Is(err, rpcerr.ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestNATSRequiresSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	if _, err := NewNATSTransport(nc, "", "peer.b"); !errors.Is(err, rpcerr.ErrConfiguration) {
		t.Fatalf("expect ErrConfiguration, got %v", err)
	}
}
