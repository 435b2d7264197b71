package overlay

import (
	"testing"
	"time"
)

func newTestNode(t *testing.T, username string) *Node {
	t.Helper()
	cfg := Default()
	cfg.Username = username
	cfg.StunServer = "disabled"
	cfg.ForceLocalhost = true
	cfg.GossipInterval = time.Hour // don't let background gossip interfere with assertions
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", username, err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start(%s): %v", username, err)
	}
	t.Cleanup(n.Stop)
	return n
}

func waitForEvent(t *testing.T, n *Node, want PeerEventType, deviceID string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-n.Events():
			if ev.Type == want && ev.DeviceID == deviceID {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v on %s", want, deviceID)
		}
	}
}

func TestAuthenticateEstablishesBidirectionalSession(t *testing.T) {
	alice := newTestNode(t, "alice")
	bob := newTestNode(t, "bob")

	if err := alice.Authenticate("bob", bob.LocalAddr().String()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	waitForEvent(t, alice, PeerAuthenticated, "bob", 2*time.Second)
	waitForEvent(t, bob, PeerAuthenticated, "alice", 2*time.Second)

	alicePeer, ok := alice.peers.Get("bob")
	if !ok || !alicePeer.Authenticated {
		t.Fatalf("alice does not have bob authenticated")
	}
	bobPeer, ok := bob.peers.Get("alice")
	if !ok || !bobPeer.Authenticated {
		t.Fatalf("bob does not have alice authenticated")
	}
}

func TestSendDeliversEncryptedMessageAfterAuth(t *testing.T) {
	alice := newTestNode(t, "alice-msg")
	bob := newTestNode(t, "bob-msg")

	if err := alice.Authenticate("bob-msg", bob.LocalAddr().String()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	waitForEvent(t, alice, PeerAuthenticated, "bob-msg", 2*time.Second)
	waitForEvent(t, bob, PeerAuthenticated, "alice-msg", 2*time.Second)

	if ok := alice.Send("bob-msg", []byte("hello bob"), true, true); !ok {
		t.Fatalf("Send returned false")
	}

	select {
	case msg := <-bob.Messages():
		if msg.FromDeviceID != "alice-msg" {
			t.Fatalf("got message from %s, want alice-msg", msg.FromDeviceID)
		}
		if string(msg.Payload) != "hello bob" {
			t.Fatalf("got payload %q, want %q", msg.Payload, "hello bob")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message delivery")
	}
}

func TestSendWithoutSessionFailsWhenEncryptionRequested(t *testing.T) {
	alice := newTestNode(t, "alice-noauth")
	// A known but never-authenticated peer: it has an endpoint, no session key.
	alice.peers.Upsert("nobody", "127.0.0.1", 1, nil)
	if ok := alice.Send("nobody", []byte("hi"), false, true); ok {
		t.Fatalf("Send should fail for a known peer with no session key when encryption is requested")
	}
}

func TestGossipPropagatesPeerKnowledge(t *testing.T) {
	a := newTestNode(t, "a-gossip")
	b := newTestNode(t, "b-gossip")
	c := newTestNode(t, "c-gossip")

	if err := a.Authenticate("b-gossip", b.LocalAddr().String()); err != nil {
		t.Fatalf("a auth b: %v", err)
	}
	waitForEvent(t, a, PeerAuthenticated, "b-gossip", 2*time.Second)
	waitForEvent(t, b, PeerAuthenticated, "a-gossip", 2*time.Second)

	if err := b.Authenticate("c-gossip", c.LocalAddr().String()); err != nil {
		t.Fatalf("b auth c: %v", err)
	}
	waitForEvent(t, b, PeerAuthenticated, "c-gossip", 2*time.Second)
	waitForEvent(t, c, PeerAuthenticated, "b-gossip", 2*time.Second)

	// b now knows both a and c; a single gossip round from b should teach
	// a about c's existence (unauthenticated) without a and c ever having
	// exchanged a single packet directly.
	b.gossipMgr.Round()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := a.peers.Get("c-gossip"); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("a never learned about c-gossip via gossip from b")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
