package dht

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"overlay-core/internal/proto"
)

// NodeInfo is a routing-table entry: enough to re-contact a peer and to
// reconstruct the SignedPeerInfo the DHT RPCs exchange on the wire.
type NodeInfo struct {
	NodeID    NodeID
	DeviceID  string
	PublicKey []byte
	IP        string
	Port      uint16
	LastSeen  time.Time
	Signature []byte
	SignedAt  time.Time
}

func (n NodeInfo) Addr() string {
	return net.JoinHostPort(n.IP, fmt.Sprintf("%d", n.Port))
}

// ToSignedPeerInfo reconstructs the wire-visible tuple for this entry.
func (n NodeInfo) ToSignedPeerInfo() proto.SignedPeerInfo {
	return proto.SignedPeerInfo{
		DeviceID:  n.DeviceID,
		IP:        n.IP,
		Port:      n.Port,
		PublicKey: n.PublicKey,
		Timestamp: n.SignedAt,
		Signature: n.Signature,
	}
}

func nodeInfoFromSignedPeerInfo(id NodeID, info proto.SignedPeerInfo) NodeInfo {
	return NodeInfo{
		NodeID:    id,
		DeviceID:  info.DeviceID,
		PublicKey: info.PublicKey,
		IP:        info.IP,
		Port:      info.Port,
		LastSeen:  time.Now(),
		Signature: info.Signature,
		SignedAt:  info.Timestamp,
	}
}

type bucket struct {
	nodes []NodeInfo // LRU: index 0 = most recently seen; end = least
	repl  []NodeInfo // replacement cache, bounded
}

// DiversityPolicy caps how many entries from the same /24 (or /64) subnet
// a single bucket may hold, mitigating Sybil/eclipse attacks from one
// address block (spec §4.2 anti-eclipse note).
type DiversityPolicy struct {
	MaxPerSubnet int
}

// RoutingTable is the Kademlia k-bucket structure (spec §4.2): NumBuckets
// buckets of up to k entries each, indexed by XOR distance from self.
type RoutingTable struct {
	self NodeID
	k    int

	mu      sync.RWMutex
	buckets [NumBuckets]bucket

	diversity DiversityPolicy
}

func NewRoutingTable(self NodeID, k int) *RoutingTable {
	if k <= 0 {
		k = 20
	}
	return &RoutingTable{self: self, k: k, diversity: DiversityPolicy{MaxPerSubnet: 2}}
}

// PingFunc reports whether a node is still reachable, used to decide
// whether to evict a bucket's LRU tail when the bucket is full.
type PingFunc func(NodeInfo) bool

// Upsert adds or refreshes id without attempting network-based eviction:
// if the owning bucket is full, the new node is dropped.
func (rt *RoutingTable) Upsert(id NodeID, info NodeInfo) {
	rt.upsertLRU(id, info, nil)
}

// UpsertWithEviction is the full Kademlia bucket-replacement algorithm:
// move-to-front if known, insert-at-front if there's room, else ping the
// LRU tail and evict it if unreachable.
func (rt *RoutingTable) UpsertWithEviction(id NodeID, info NodeInfo, ping PingFunc) {
	rt.upsertLRU(id, info, ping)
}

func (rt *RoutingTable) upsertLRU(id NodeID, info NodeInfo, ping PingFunc) {
	if id == rt.self {
		return
	}
	bi := BucketIndex(rt.self, id)
	if bi < 0 || bi >= NumBuckets {
		return
	}
	info.NodeID = id
	if info.LastSeen.IsZero() {
		info.LastSeen = time.Now()
	}

	rt.mu.Lock()
	b := rt.buckets[bi]

	for i := range b.nodes {
		if b.nodes[i].NodeID == id {
			updated := b.nodes[i]
			updated.IP = info.IP
			updated.Port = info.Port
			updated.PublicKey = info.PublicKey
			updated.Signature = info.Signature
			updated.SignedAt = info.SignedAt
			updated.LastSeen = info.LastSeen

			copy(b.nodes[i:], b.nodes[i+1:])
			b.nodes = b.nodes[:len(b.nodes)-1]
			b.nodes = append([]NodeInfo{updated}, b.nodes...)

			rt.buckets[bi] = b
			rt.mu.Unlock()
			return
		}
	}

	if max := rt.diversity.MaxPerSubnet; max > 0 {
		sk := subnetKey(info.IP)
		if sk != "" {
			cnt := 0
			for i := range b.nodes {
				if subnetKey(b.nodes[i].IP) == sk {
					cnt++
				}
			}
			if cnt >= max {
				rt.mu.Unlock()
				return
			}
		}
	}

	if len(b.nodes) < rt.k {
		b.nodes = append([]NodeInfo{info}, b.nodes...)
		rt.buckets[bi] = b
		rt.mu.Unlock()
		return
	}

	if ping == nil {
		rt.mu.Unlock()
		return
	}

	tail := b.nodes[len(b.nodes)-1]
	rt.mu.Unlock()

	alive := ping(tail)

	rt.mu.Lock()
	b = rt.buckets[bi]

	if len(b.nodes) < rt.k {
		b.nodes = append([]NodeInfo{info}, b.nodes...)
		rt.buckets[bi] = b
		rt.mu.Unlock()
		return
	}

	curTail := b.nodes[len(b.nodes)-1]
	if alive && curTail.NodeID == tail.NodeID {
		b = rt.addReplacement(b, info)
		rt.buckets[bi] = b
		rt.mu.Unlock()
		return
	}

	b.nodes = b.nodes[:len(b.nodes)-1]
	b.nodes = append([]NodeInfo{info}, b.nodes...)
	rt.buckets[bi] = b
	rt.mu.Unlock()
}

func (rt *RoutingTable) addReplacement(b bucket, ni NodeInfo) bucket {
	const replMax = 10
	for i := range b.repl {
		if b.repl[i].NodeID == ni.NodeID {
			return b
		}
	}
	b.repl = append([]NodeInfo{ni}, b.repl...)
	if len(b.repl) > replMax {
		b.repl = b.repl[:replMax]
	}
	return b
}

// Remove drops id from its bucket.
func (rt *RoutingTable) Remove(id NodeID) {
	bi := BucketIndex(rt.self, id)
	if bi < 0 || bi >= NumBuckets {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[bi]
	for i := range b.nodes {
		if b.nodes[i].NodeID == id {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			break
		}
	}
	rt.buckets[bi] = b
}

// Closest returns up to n entries sorted by ascending XOR distance to
// target. n defaults to k.
func (rt *RoutingTable) Closest(target NodeID, n int) []NodeInfo {
	if n <= 0 {
		n = rt.k
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	all := make([]NodeInfo, 0, NumBuckets*rt.k)
	for i := 0; i < NumBuckets; i++ {
		all = append(all, rt.buckets[i].nodes...)
	}

	SortByDistance(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// SortByDistance sorts nodes in place by ascending XOR distance to target.
func SortByDistance(nodes []NodeInfo, target NodeID) {
	type nd struct {
		ni   NodeInfo
		dist NodeID
	}
	tmp := make([]nd, len(nodes))
	for i := range nodes {
		tmp[i] = nd{ni: nodes[i], dist: Xor(nodes[i].NodeID, target)}
	}
	for i := 1; i < len(tmp); i++ {
		j := i
		for j > 0 && Less(tmp[j].dist, tmp[j-1].dist) {
			tmp[j], tmp[j-1] = tmp[j-1], tmp[j]
			j--
		}
	}
	for i := range tmp {
		nodes[i] = tmp[i].ni
	}
}

func subnetKey(ipStr string) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "dns:" + strings.ToLower(ipStr)
	}
	if ip.IsLoopback() {
		return "loopback:" + ipStr
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("v4:%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return "ip:unknown"
	}
	pfx := make(net.IP, 16)
	copy(pfx, ip16)
	for i := 8; i < 16; i++ {
		pfx[i] = 0
	}
	return "v6:" + pfx.String() + "/64"
}

// Size returns the total number of entries across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for i := 0; i < NumBuckets; i++ {
		n += len(rt.buckets[i].nodes)
	}
	return n
}

// BucketSize returns the number of entries in one bucket.
func (rt *RoutingTable) BucketSize(bucket int) int {
	if bucket < 0 || bucket >= NumBuckets {
		return 0
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.buckets[bucket].nodes)
}

// SetDiversityLimit changes the anti-eclipse subnet cap at runtime.
func (rt *RoutingTable) SetDiversityLimit(maxPerSubnet int) {
	rt.mu.Lock()
	rt.diversity.MaxPerSubnet = maxPerSubnet
	rt.mu.Unlock()
}

// NonEmptyBuckets lists the indexes of buckets holding at least one entry.
func (rt *RoutingTable) NonEmptyBuckets() []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []int
	for i := 0; i < NumBuckets; i++ {
		if len(rt.buckets[i].nodes) > 0 {
			out = append(out, i)
		}
	}
	return out
}
