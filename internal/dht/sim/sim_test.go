package sim

import (
	"net"
	"testing"
	"time"

	"overlay-core/internal/crypto"
	"overlay-core/internal/dht"
	"overlay-core/internal/proto"
)

func makeSelfInfo(t *testing.T, addr string) proto.SignedPeerInfo {
	t.Helper()
	id, err := crypto.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%s): %v", addr, err)
	}
	port := uint16(mustAtoi(portStr))
	info := proto.SignedPeerInfo{
		DeviceID:  id.Hex(),
		IP:        host,
		Port:      port,
		PublicKey: id.Pub,
		Timestamp: time.Now(),
	}
	return proto.SignPeerInfo(info, id.Priv)
}

func mustAtoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func buildNode(t *testing.T, nw *Network, addr string) *Node {
	t.Helper()
	n, err := NewNode(nw, addr, func(tr dht.Transport) (*dht.Engine, error) {
		info := makeSelfInfo(t, addr)
		return dht.New(info.DeviceID, info, tr, nil)
	})
	if err != nil {
		t.Fatalf("NewNode(%s): %v", addr, err)
	}
	return n
}

func TestJoinConvergesRoutingTables(t *testing.T) {
	nw := NewNetwork(1)

	seed := buildNode(t, nw, "127.0.0.1:9000")

	var joiners []*Node
	for i := 1; i <= 4; i++ {
		addr := addrFor(i)
		n := buildNode(t, nw, addr)
		if err := n.Engine().Join(seed.addr, dht.DefaultLookupConfig()); err != nil {
			t.Fatalf("Join from %s failed: %v", addr, err)
		}
		joiners = append(joiners, n)
	}

	if seed.Engine().Routing().Size() == 0 {
		t.Fatalf("seed should have learned about joiners")
	}
	for _, n := range joiners {
		if n.Engine().Routing().Size() == 0 {
			t.Fatalf("joiner %s should have learned about at least the seed", n.addr)
		}
	}
}

func TestIterativeFindNodeOnEmptyTableReturnsNothing(t *testing.T) {
	nw := NewNetwork(2)
	n := buildNode(t, nw, "127.0.0.1:9100")

	cfg := dht.DefaultLookupConfig()
	cfg.RPCTimeout = 50 * time.Millisecond
	cfg.MaxRounds = 2

	results, err := n.Engine().IterativeFindNode(dht.RandomNodeID(), cfg)
	if err != nil {
		t.Fatalf("lookup on an empty table should not error, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results from an empty routing table, got %d", len(results))
	}
}

func addrFor(i int) string {
	return "127.0.0.1:" + itoa(9000+i)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
