package dht

import (
	"fmt"
	"time"
)

func portString(p uint16) string {
	return fmt.Sprintf("%d", p)
}

// Join implements spec §4.6's bootstrap procedure: PING the donor, run
// an iterative lookup for the local node's own id to populate the
// routing table, then STORE (announce) to the resulting k-closest nodes.
func (e *Engine) Join(donorAddr string, cfg LookupConfig) error {
	cfg = fillLookupDefaults(cfg)

	donorInfo, err := e.Ping(donorAddr, cfg.RPCTimeout)
	if err != nil {
		return fmt.Errorf("dht: join ping donor %s: %w", donorAddr, err)
	}
	e.ObservePeer(donorInfo)

	closest, err := e.IterativeFindNode(e.self, cfg)
	if err != nil {
		return fmt.Errorf("dht: join lookup: %w", err)
	}

	for _, info := range closest {
		addr := info.IP + ":" + portString(info.Port)
		if err := e.Store(addr, cfg.RPCTimeout); err != nil {
			e.logger.Printf("dht: join announce to %s failed: %v", addr, err)
		}
	}
	return nil
}

// RunBucketRefresh periodically looks up a random NodeID to keep
// distant buckets populated, per spec.md's ordinary Kademlia
// maintenance (§4.6), adapted from the teacher's refresh.go.
func (e *Engine) RunBucketRefresh(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	cfg := DefaultLookupConfig()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			target := RandomNodeID()
			if _, err := e.IterativeFindNode(target, cfg); err != nil {
				e.logger.Printf("dht: bucket refresh lookup failed: %v", err)
			}
		}
	}
}
