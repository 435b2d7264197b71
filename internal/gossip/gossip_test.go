package gossip

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"overlay-core/internal/peertable"
	"overlay-core/internal/proto"
)

func newSeqFunc() func() uint32 {
	var seq uint32
	return func() uint32 { return atomic.AddUint32(&seq, 1) }
}

func TestRoundFansOutToAuthenticatedPeersOnly(t *testing.T) {
	table := peertable.New()
	table.Upsert("authed-1", "10.0.0.1", 9001, []byte("pub1"))
	table.MarkAuthenticated("authed-1", []byte("key1"))
	table.Upsert("pending-1", "10.0.0.2", 9002, []byte("pub2")) // not authenticated

	var mu sync.Mutex
	var sentTo []string
	send := func(addr string, env proto.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		sentTo = append(sentTo, addr)
		return nil
	}

	m := NewManager("self", table, send, newSeqFunc(), nil, Config{PeerCount: 5})
	m.Round()

	mu.Lock()
	defer mu.Unlock()
	if len(sentTo) != 1 {
		t.Fatalf("expected gossip to reach exactly the one authenticated peer, sent to %v", sentTo)
	}
	if sentTo[0] != "10.0.0.1:9001" {
		t.Fatalf("unexpected gossip target %s", sentTo[0])
	}
}

func TestHandleSnapshotAddsUnknownPeersUnauthenticated(t *testing.T) {
	table := peertable.New()
	m := NewManager("self", table, func(string, proto.Envelope) error { return nil }, newSeqFunc(), nil, Config{})

	snap := proto.RoutingTableSnapshot{
		Peers: []proto.GossipPeer{
			{DeviceID: "newpeer", IP: "10.0.0.5", Port: 9005, LastSeen: time.Now().UnixMilli()},
		},
	}
	env := proto.Envelope{Payload: mustMarshalTest(t, snap)}

	if err := m.HandleSnapshot(env); err != nil {
		t.Fatalf("HandleSnapshot: %v", err)
	}

	p, ok := table.Get("newpeer")
	if !ok {
		t.Fatalf("expected newpeer to be added to the table")
	}
	if p.Authenticated {
		t.Fatalf("gossip-learned peers must not be marked authenticated")
	}
}

func TestHandleSnapshotDoesNotOverwriteNewerLocalKnowledge(t *testing.T) {
	table := peertable.New()
	table.Upsert("p1", "10.0.0.1", 9001, []byte("pub"))
	fresh, _ := table.Get("p1")

	m := NewManager("self", table, func(string, proto.Envelope) error { return nil }, newSeqFunc(), nil, Config{})

	stale := proto.RoutingTableSnapshot{
		Peers: []proto.GossipPeer{
			{DeviceID: "p1", IP: "9.9.9.9", Port: 1, LastSeen: fresh.LastSeen.Add(-time.Hour).UnixMilli()},
		},
	}
	env := proto.Envelope{Payload: mustMarshalTest(t, stale)}

	if err := m.HandleSnapshot(env); err != nil {
		t.Fatalf("HandleSnapshot: %v", err)
	}

	p, _ := table.Get("p1")
	if p.IP != "10.0.0.1" {
		t.Fatalf("stale gossip entry must not overwrite fresher local knowledge, got IP %s", p.IP)
	}
}

func TestHandleSnapshotIgnoresSelf(t *testing.T) {
	table := peertable.New()
	m := NewManager("self", table, func(string, proto.Envelope) error { return nil }, newSeqFunc(), nil, Config{})

	snap := proto.RoutingTableSnapshot{Peers: []proto.GossipPeer{{DeviceID: "self", IP: "127.0.0.1", Port: 1}}}
	env := proto.Envelope{Payload: mustMarshalTest(t, snap)}
	if err := m.HandleSnapshot(env); err != nil {
		t.Fatalf("HandleSnapshot: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("gossip must never insert an entry for the local device id")
	}
}

func mustMarshalTest(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
