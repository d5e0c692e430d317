package router

import (
	"net"
	"testing"
)

func TestBroadcastDropsClientWithFullQueue(t *testing.T) {
	r, _ := testRouter(t)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	full := newControlClient(serverConn, 1)
	full.queue <- []byte("already-queued") // fill its depth-1 queue

	r.clients[full] = struct{}{}
	r.broadcast([]byte("hello"))

	if _, stillPresent := r.clients[full]; stillPresent {
		t.Fatalf("expected client with full queue to be dropped")
	}
}

func TestBroadcastDeliversToClientWithCapacity(t *testing.T) {
	r, _ := testRouter(t)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := newControlClient(serverConn, 4)
	r.clients[c] = struct{}{}
	r.broadcast([]byte("hello"))

	if _, stillPresent := r.clients[c]; !stillPresent {
		t.Fatalf("expected client with queue capacity to remain connected")
	}
	select {
	case line := <-c.queue:
		if string(line) != "hello" {
			t.Fatalf("unexpected queued line: %q", line)
		}
	default:
		t.Fatalf("expected a queued line")
	}
}
