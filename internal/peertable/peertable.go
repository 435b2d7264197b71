// Package peertable holds the node's view of known peers (spec §3/§4.5):
// a device-id keyed map refreshed on every inbound datagram, with
// authenticated-only inactivity eviction. The map/snapshot shape follows
// the teacher's internal/p2p/peers.go; the authenticated/unauthenticated
// distinction and eviction rule are new, built from spec §4.5.
package peertable

import (
	"sync"
	"time"
)

// Peer is one entry in the table.
type Peer struct {
	DeviceID      string
	IP            string
	Port          uint16
	PublicKey     []byte
	Authenticated bool
	SessionKey    []byte // set once authentication completes
	LastSeen      time.Time
}

// Table is the device-id -> Peer map. All access is through its methods;
// callers never get the live map, only copies, matching the teacher's
// snapshot-returning style in peers.go.
type Table struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func New() *Table {
	return &Table{peers: make(map[string]*Peer)}
}

// Upsert refreshes LastSeen for an existing entry or inserts a new
// unauthenticated one, per spec §4.5 "upsert on every inbound datagram."
// IP/Port are updated so a peer's endpoint can migrate across NAT
// rebindings without losing its identity.
func (t *Table) Upsert(deviceID, ip string, port uint16, publicKey []byte) *Peer {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[deviceID]
	if !ok {
		p = &Peer{DeviceID: deviceID}
		t.peers[deviceID] = p
	}
	p.IP = ip
	p.Port = port
	if len(publicKey) > 0 {
		p.PublicKey = publicKey
	}
	p.LastSeen = now
	return p
}

// MarkAuthenticated installs a derived session key and flips the
// authenticated flag, per spec §4.7 "handshake success installs a
// session key."
func (t *Table) MarkAuthenticated(deviceID string, sessionKey []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[deviceID]
	if !ok {
		p = &Peer{DeviceID: deviceID}
		t.peers[deviceID] = p
	}
	p.Authenticated = true
	p.SessionKey = sessionKey
	p.LastSeen = time.Now()
}

// Get returns a copy of the peer entry, or (Peer{}, false) if unknown.
func (t *Table) Get(deviceID string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[deviceID]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Remove deletes an entry outright.
func (t *Table) Remove(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, deviceID)
}

// Snapshot returns a defensive copy of every entry, safe for callers to
// read without holding the table's lock (spec §5's "defensive copies for
// external readers" rule).
func (t *Table) Snapshot() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// AuthenticatedPeers returns a snapshot of only authenticated entries,
// the population gossip fans out to (spec §4.8).
func (t *Table) AuthenticatedPeers() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Authenticated {
			out = append(out, *p)
		}
	}
	return out
}

// Len returns the total number of known peers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// EvictInactive drops authenticated peers silent for longer than
// staleAfter. Unauthenticated peers are never evicted by this rule
// (spec §4.5): they are only ever refreshed by a fresh Upsert or removed
// explicitly through Remove.
func (t *Table) EvictInactive(staleAfter time.Duration) []string {
	cutoff := time.Now().Add(-staleAfter)

	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	for id, p := range t.peers {
		if p.Authenticated && p.LastSeen.Before(cutoff) {
			delete(t.peers, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
