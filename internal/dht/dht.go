// Package dht implements the Kademlia-style peer-discovery layer from
// spec §4.6: a 160-bit XOR-metric routing table, PING/FIND_NODE/STORE
// RPCs, iterative node lookup, join, and bucket refresh. Structure is
// grounded on the teacher's internal/dht package, narrowed from its
// 256-bit NodeID to the spec's 160-bit SHA-1 id and stripped of the
// teacher's arbitrary key-value record store (publish/republish), which
// spec.md never calls for — only peer discovery.
package dht

import (
	"fmt"
	"sync"
	"time"

	"overlay-core/internal/proto"
	"overlay-core/internal/telemetry"
)

// Transport is the DHT engine's dependency on the outside world: send a
// binary-framed RPC to an address and get told about inbound frames via
// HandleFrame. Addresses are "ip:port" strings so the engine can contact
// nodes it has never authenticated with, the same role the teacher's
// Sender interface plays for internal/dht.DHT.
type Transport interface {
	SendDHTFrame(addr string, frame proto.DHTFrame) error
}

// Engine owns the routing table, pending-RPC tracking, and lookup logic
// for one node.
type Engine struct {
	self     NodeID
	deviceID string // this node's own device-id string; self == NodeIDFromDeviceID(deviceID)
	selfInfo proto.SignedPeerInfo

	rt *RoutingTable

	transport Transport
	logger    telemetry.Logger

	pendingMu sync.Mutex
	pending   map[uint32]chan proto.DHTFrame

	metrics Metrics

	diversity DiversityPolicy
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithDiversityPolicy(p DiversityPolicy) Option {
	return func(e *Engine) { e.rt.SetDiversityLimit(p.MaxPerSubnet) }
}

// New builds an Engine for a node whose own SignedPeerInfo is selfInfo
// (carried in its own PING and STORE requests and in the PONG replies it
// answers PING/STORE with).
func New(deviceID string, selfInfo proto.SignedPeerInfo, transport Transport, logger telemetry.Logger, opts ...Option) (*Engine, error) {
	if len(selfInfo.PublicKey) == 0 {
		return nil, fmt.Errorf("dht: selfInfo missing public key")
	}
	if logger == nil {
		logger = telemetry.Discard{}
	}
	self := NodeIDFromDeviceID(selfInfo.DeviceID)

	e := &Engine{
		self:      self,
		deviceID:  deviceID,
		selfInfo:  selfInfo,
		rt:        NewRoutingTable(self, 20),
		transport: transport,
		logger:    logger,
		pending:   make(map[uint32]chan proto.DHTFrame),
		metrics:   NoopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SelfID returns this node's 160-bit NodeID.
func (e *Engine) SelfID() NodeID { return e.self }

// Routing exposes the routing table for read-only inspection (tests,
// diagnostics, gossip seeding).
func (e *Engine) Routing() *RoutingTable { return e.rt }

// ObservePeer upserts a verified SignedPeerInfo into the routing table.
// Called on inbound PING/STORE requests, on the donor's PONG during Join,
// on FOUND_NODE entries during a lookup, and by the overlay on the PONG
// it gets back after pinging a newly authenticated peer.
func (e *Engine) ObservePeer(info proto.SignedPeerInfo) {
	if !proto.VerifyPeerInfo(info) {
		e.logger.Printf("dht: dropping unverifiable peer info for %s", info.DeviceID)
		return
	}
	id := NodeIDFromDeviceID(info.DeviceID)
	if id == e.self {
		return
	}
	e.rt.UpsertWithEviction(id, nodeInfoFromSignedPeerInfo(id, info), e.pingForEviction)
	e.metrics.SetRoutingTableSize(e.rt.Size())
}

func (e *Engine) pingForEviction(n NodeInfo) bool {
	_, err := e.Ping(n.Addr(), 1200*time.Millisecond)
	return err == nil
}

func newRPCID() uint32 {
	var b [4]byte
	readRandom(b[:])
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
