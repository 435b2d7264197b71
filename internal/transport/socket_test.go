package transport

import (
	"net"
	"testing"
	"time"

	"overlay-core/internal/telemetry"
)

func TestSocketSendRecvRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1:0", telemetry.Discard{})
	if err != nil {
		t.Fatalf("Listen a: %v", err)
	}
	defer a.Close()

	b, err := Listen("127.0.0.1:0", telemetry.Discard{})
	if err != nil {
		t.Fatalf("Listen b: %v", err)
	}
	defer b.Close()

	received := make(chan []byte, 1)
	go func() {
		_ = b.Serve(func(data []byte, from *net.UDPAddr) {
			received <- data
		})
	}()

	if err := a.SendTo(b.LocalAddr(), []byte("hello")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Fatalf("got %q want %q", data, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for datagram")
	}
}

func TestSocketCloseStopsServe(t *testing.T) {
	s, err := Listen("127.0.0.1:0", telemetry.Discard{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(func([]byte, *net.UDPAddr) {})
	}()

	s.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after Close")
	}
}
