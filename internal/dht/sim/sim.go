// Package sim is an in-process deterministic transport for exercising
// internal/dht's algorithms across many simulated nodes without real
// sockets, adapted directly from the teacher's internal/dht/sim package.
// It is test-only scaffolding, not production networking.
package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"overlay-core/internal/dht"
	"overlay-core/internal/proto"
)

// Network routes DHT frames between in-process Nodes, keyed by address.
type Network struct {
	mu    sync.RWMutex
	nodes map[string]*Node

	Latency  time.Duration
	DropRate float64

	rng *rand.Rand
}

func NewNetwork(seed int64) *Network {
	return &Network{
		nodes: make(map[string]*Node),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (nw *Network) add(n *Node) {
	nw.mu.Lock()
	nw.nodes[n.addr] = n
	nw.mu.Unlock()
}

func (nw *Network) deliver(to string, from string, frame proto.DHTFrame) error {
	nw.mu.RLock()
	target := nw.nodes[to]
	nw.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("sim: unknown address %s", to)
	}
	if nw.DropRate > 0 && nw.rng.Float64() < nw.DropRate {
		return nil
	}
	if nw.Latency > 0 {
		time.Sleep(nw.Latency)
	}
	target.engine.HandleFrame(from, frame)
	return nil
}

// Node implements dht.Transport against the simulated Network.
type Node struct {
	nw     *Network
	addr   string
	engine *dht.Engine
}

// NewNode creates a simulated node at addr whose DHT engine is
// constructed lazily via build, which receives the Node acting as its
// Transport (a closure to break the engine/Node construction cycle).
func NewNode(nw *Network, addr string, build func(dht.Transport) (*dht.Engine, error)) (*Node, error) {
	n := &Node{nw: nw, addr: addr}
	eng, err := build(n)
	if err != nil {
		return nil, err
	}
	n.engine = eng
	nw.add(n)
	return n, nil
}

func (n *Node) Engine() *dht.Engine { return n.engine }

// SendDHTFrame implements dht.Transport.
func (n *Node) SendDHTFrame(addr string, frame proto.DHTFrame) error {
	return n.nw.deliver(addr, n.addr, frame)
}
