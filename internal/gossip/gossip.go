// Package gossip periodically exchanges routing-table snapshots between
// authenticated peers so that peer discovery propagates without any
// central directory (spec §4.8). The fan-out shape follows the teacher's
// internal/p2p/node.go Broadcast/relay: pick a subset of known peers and
// push to each independently, best-effort.
package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"overlay-core/internal/peertable"
	"overlay-core/internal/proto"
	"overlay-core/internal/telemetry"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultPeerCount = 3
)

// SendFunc delivers an already-built ROUTING_TABLE envelope to addr.
type SendFunc func(addr string, env proto.Envelope) error

// Config controls fan-out cadence and width.
type Config struct {
	Interval  time.Duration
	PeerCount int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.PeerCount <= 0 {
		c.PeerCount = DefaultPeerCount
	}
	return c
}

// Manager owns the periodic gossip loop and inbound snapshot merging.
type Manager struct {
	selfDeviceID string
	table        *peertable.Table
	send         SendFunc
	logger       telemetry.Logger
	cfg          Config
	nextSeq      func() uint32
	rng          *rand.Rand
}

func NewManager(selfDeviceID string, table *peertable.Table, send SendFunc, nextSeq func() uint32, logger telemetry.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = telemetry.Discard{}
	}
	return &Manager{
		selfDeviceID: selfDeviceID,
		table:        table,
		send:         send,
		logger:       logger,
		cfg:          cfg.withDefaults(),
		nextSeq:      nextSeq,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run fires gossip rounds on cfg.Interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Round()
		}
	}
}

// Round runs a single gossip fan-out to a random subset of authenticated
// peers.
func (m *Manager) Round() {
	targets := m.pickTargets()
	if len(targets) == 0 {
		return
	}
	env := m.buildEnvelope()
	for _, p := range targets {
		if err := m.send(p.IP+":"+portString(p.Port), env); err != nil {
			m.logger.Printf("gossip: send to %s failed: %v", p.DeviceID, err)
		}
	}
}

func (m *Manager) pickTargets() []peertable.Peer {
	authenticated := m.table.AuthenticatedPeers()
	all := authenticated[:0]
	for _, p := range authenticated {
		if p.DeviceID != m.selfDeviceID {
			all = append(all, p)
		}
	}
	if len(all) <= m.cfg.PeerCount {
		return all
	}
	m.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:m.cfg.PeerCount]
}

func (m *Manager) buildEnvelope() proto.Envelope {
	snap := m.snapshot()
	body, err := json.Marshal(snap)
	if err != nil {
		panic(fmt.Sprintf("gossip: marshal snapshot: %v", err))
	}
	env := proto.Envelope{
		Type:           proto.KindRoutingTable,
		FromPeerID:     m.selfDeviceID,
		Payload:        body,
		SequenceNumber: m.nextSeq(),
		Timestamp:      time.Now(),
	}
	return proto.Checksummed(env)
}

func (m *Manager) snapshot() proto.RoutingTableSnapshot {
	peers := m.table.Snapshot()
	out := make([]proto.GossipPeer, 0, len(peers))
	for _, p := range peers {
		out = append(out, proto.GossipPeer{
			DeviceID:  p.DeviceID,
			IP:        p.IP,
			Port:      p.Port,
			PublicKey: p.PublicKey,
			LastSeen:  p.LastSeen.UnixMilli(),
		})
	}
	return proto.RoutingTableSnapshot{Peers: out, Timestamp: time.Now()}
}

// HandleSnapshot merges an inbound ROUTING_TABLE payload into the local
// peer table: unknown device ids are added unauthenticated, known entries
// are only refreshed if the incoming record is strictly newer (spec
// §4.8's "does not overwrite fresher local knowledge" rule).
func (m *Manager) HandleSnapshot(env proto.Envelope) error {
	var snap proto.RoutingTableSnapshot
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		return fmt.Errorf("gossip: unmarshal snapshot: %w", err)
	}
	for _, gp := range snap.Peers {
		if gp.DeviceID == "" || gp.DeviceID == m.selfDeviceID {
			continue
		}
		existing, ok := m.table.Get(gp.DeviceID)
		incomingSeen := time.UnixMilli(gp.LastSeen)
		if ok && !incomingSeen.After(existing.LastSeen) {
			continue
		}
		m.table.Upsert(gp.DeviceID, gp.IP, gp.Port, gp.PublicKey)
	}
	return nil
}

func portString(p uint16) string {
	return fmt.Sprintf("%d", p)
}
