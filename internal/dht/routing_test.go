package dht

import (
	"fmt"
	"testing"
)

func nodeInfoAt(i int) NodeInfo {
	var id NodeID
	id[NodeIDBytes-1] = byte(i)
	return NodeInfo{
		NodeID: id,
		IP:     fmt.Sprintf("10.0.%d.1", i),
		Port:   uint16(9000 + i),
	}
}

func TestRoutingTableUpsertAndClosest(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, 20)

	for i := 1; i <= 5; i++ {
		ni := nodeInfoAt(i)
		rt.Upsert(ni.NodeID, ni)
	}

	if rt.Size() != 5 {
		t.Fatalf("expected 5 entries, got %d", rt.Size())
	}

	var target NodeID
	closest := rt.Closest(target, 3)
	if len(closest) != 3 {
		t.Fatalf("expected 3 closest entries, got %d", len(closest))
	}
	for i := 1; i < len(closest); i++ {
		prevDist := Xor(closest[i-1].NodeID, target)
		curDist := Xor(closest[i].NodeID, target)
		if Less(curDist, prevDist) {
			t.Fatalf("closest results not sorted by ascending distance")
		}
	}
}

func TestRoutingTableSelfNeverInserted(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, 20)
	rt.Upsert(self, NodeInfo{NodeID: self, IP: "10.0.0.1", Port: 1})
	if rt.Size() != 0 {
		t.Fatalf("self should never be inserted into its own routing table")
	}
}

func TestRoutingTableDiversityCap(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, 20)
	rt.SetDiversityLimit(2)

	for i := 1; i <= 5; i++ {
		var id NodeID
		id[0] = 0x80 // every id differs from self in the top bit -> bucket 0
		id[NodeIDBytes-1] = byte(i)
		// Same /24 subnet for every entry, all in the same bucket.
		rt.Upsert(id, NodeInfo{NodeID: id, IP: "192.168.1.1", Port: uint16(9000 + i)})
	}

	if rt.Size() > 2 {
		t.Fatalf("diversity cap of 2 per subnet should have limited insertions, got %d", rt.Size())
	}
}

func TestRoutingTableUpsertMovesToFront(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, 20)
	ni := nodeInfoAt(1)
	rt.Upsert(ni.NodeID, ni)

	updated := ni
	updated.Port = 9999
	rt.Upsert(ni.NodeID, updated)

	bi := BucketIndex(self, ni.NodeID)
	if rt.BucketSize(bi) != 1 {
		t.Fatalf("re-upserting an existing node should not duplicate it")
	}
}

func TestRoutingTableBucketFullDropsWithoutPing(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, 1)
	rt.SetDiversityLimit(0)

	// Two different NodeIDs landing in the same bucket (bucket 0, the
	// highest-order differing bit) by sharing a leading zero byte and
	// differing only in a low byte far enough to keep bucket index equal
	// is hard to construct directly; instead rely on capacity k=1 and
	// two inserts whose bucket index happens to coincide by construction.
	var a, b NodeID
	a[0] = 0x80
	b[0] = 0x81 // both differ from self at bit 0 -> same bucket index 0
	rt.Upsert(a, NodeInfo{NodeID: a, IP: "10.0.0.1", Port: 1})
	rt.Upsert(b, NodeInfo{NodeID: b, IP: "10.0.0.2", Port: 2})

	bi := BucketIndex(self, a)
	if rt.BucketSize(bi) != 1 {
		t.Fatalf("bucket of size 1 should reject a second node with no ping func, got %d", rt.BucketSize(bi))
	}
}
