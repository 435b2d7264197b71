package dht

import (
	"overlay-core/internal/proto"
)

// HandleFrame processes one inbound DHT RPC frame arriving from addr.
// Replies matching a pending RPC are delivered to the waiting caller;
// everything else is treated as a fresh request and answered directly.
func (e *Engine) HandleFrame(addr string, frame proto.DHTFrame) {
	switch frame.Op {
	case proto.OpPong, proto.OpFoundNode:
		e.deliverPending(frame)
		return
	case proto.OpPing:
		e.handlePing(addr, frame)
	case proto.OpFindNode:
		e.handleFindNode(addr, frame)
	case proto.OpStore:
		e.handleStore(addr, frame)
	}
}

func (e *Engine) deliverPending(frame proto.DHTFrame) {
	e.pendingMu.Lock()
	ch := e.pending[frame.RPCID]
	e.pendingMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

func (e *Engine) handlePing(addr string, frame proto.DHTFrame) {
	if proto.VerifyPeerInfo(frame.Info) {
		e.ObservePeer(frame.Info)
	}
	reply := proto.DHTFrame{Op: proto.OpPong, RPCID: frame.RPCID, Info: e.selfInfo}
	if err := e.transport.SendDHTFrame(addr, reply); err != nil {
		e.logger.Printf("dht: pong to %s failed: %v", addr, err)
	}
}

func (e *Engine) handleFindNode(addr string, frame proto.DHTFrame) {
	if proto.VerifyPeerInfo(frame.Info) {
		e.ObservePeer(frame.Info)
	}
	target := NodeID(frame.Target)
	closest := e.rt.Closest(target, 20)

	nodes := make([]proto.SignedPeerInfo, 0, len(closest))
	for _, ni := range closest {
		nodes = append(nodes, ni.ToSignedPeerInfo())
	}

	reply := proto.DHTFrame{Op: proto.OpFoundNode, RPCID: frame.RPCID, Nodes: nodes}
	if err := e.transport.SendDHTFrame(addr, reply); err != nil {
		e.logger.Printf("dht: found_node reply to %s failed: %v", addr, err)
	}
}

func (e *Engine) handleStore(addr string, frame proto.DHTFrame) {
	if proto.VerifyPeerInfo(frame.Info) {
		e.ObservePeer(frame.Info)
	}
	// STORE here is "announce myself", so the ack is just a PONG-shaped
	// acknowledgement reusing the same RPCID.
	reply := proto.DHTFrame{Op: proto.OpPong, RPCID: frame.RPCID, Info: e.selfInfo}
	if err := e.transport.SendDHTFrame(addr, reply); err != nil {
		e.logger.Printf("dht: store ack to %s failed: %v", addr, err)
	}
}
