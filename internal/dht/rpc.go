package dht

import (
	"time"

	"overlay-core/internal/errs"
	"overlay-core/internal/proto"
)

func (e *Engine) register(rpcID uint32) chan proto.DHTFrame {
	ch := make(chan proto.DHTFrame, 1)
	e.pendingMu.Lock()
	e.pending[rpcID] = ch
	e.pendingMu.Unlock()
	return ch
}

func (e *Engine) unregister(rpcID uint32) {
	e.pendingMu.Lock()
	delete(e.pending, rpcID)
	e.pendingMu.Unlock()
}

func (e *Engine) await(ch chan proto.DHTFrame, timeout time.Duration) (proto.DHTFrame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-ch:
		return frame, nil
	case <-timer.C:
		return proto.DHTFrame{}, errs.ErrRPCTimeout
	}
}

// Ping sends a PING to addr and waits for a PONG, per spec §4.6.
func (e *Engine) Ping(addr string, timeout time.Duration) (proto.SignedPeerInfo, error) {
	rpcID := newRPCID()
	req := proto.DHTFrame{Op: proto.OpPing, RPCID: rpcID, Info: e.selfInfo}
	ch := e.register(rpcID)
	defer e.unregister(rpcID)

	start := time.Now()
	if err := e.transport.SendDHTFrame(addr, req); err != nil {
		e.metrics.IncRPC("PING", false)
		return proto.SignedPeerInfo{}, err
	}

	resp, err := e.await(ch, timeout)
	e.metrics.IncRPC("PING", err == nil)
	_ = start
	if err != nil {
		return proto.SignedPeerInfo{}, err
	}
	return resp.Info, nil
}

// FindNode sends a FIND_NODE to addr for target and returns the
// responder's claimed closest nodes.
func (e *Engine) FindNode(addr string, target NodeID, timeout time.Duration) ([]proto.SignedPeerInfo, error) {
	rpcID := newRPCID()
	req := proto.DHTFrame{Op: proto.OpFindNode, RPCID: rpcID, Target: [20]byte(target)}
	ch := e.register(rpcID)
	defer e.unregister(rpcID)

	if err := e.transport.SendDHTFrame(addr, req); err != nil {
		e.metrics.IncRPC("FIND_NODE", false)
		return nil, err
	}

	resp, err := e.await(ch, timeout)
	e.metrics.IncRPC("FIND_NODE", err == nil)
	if err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// Store sends a STORE announcing this node's own info to addr, the
// join-time "announce myself to the k-closest nodes" step (spec §4.6).
func (e *Engine) Store(addr string, timeout time.Duration) error {
	rpcID := newRPCID()
	req := proto.DHTFrame{Op: proto.OpStore, RPCID: rpcID, Info: e.selfInfo}
	ch := e.register(rpcID)
	defer e.unregister(rpcID)

	if err := e.transport.SendDHTFrame(addr, req); err != nil {
		e.metrics.IncRPC("STORE", false)
		return err
	}
	_, err := e.await(ch, timeout)
	e.metrics.IncRPC("STORE", err == nil)
	return err
}
