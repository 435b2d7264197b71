package dht

import (
	"time"

	"overlay-core/internal/proto"
)

// LookupConfig tunes an iterative lookup (spec §4.6).
type LookupConfig struct {
	Alpha      int
	K          int
	RPCTimeout time.Duration
	MaxRounds  int
}

func DefaultLookupConfig() LookupConfig {
	return LookupConfig{
		Alpha:      3,
		K:          20,
		RPCTimeout: 5 * time.Second,
		MaxRounds:  32,
	}
}

type candidate struct {
	info    proto.SignedPeerInfo
	id      NodeID
	addr    string
	dist    NodeID
	queried bool
}

// IterativeFindNode implements the standard Kademlia iterative lookup:
// repeatedly query the alpha closest unqueried candidates, folding any
// newly discovered nodes into the candidate set, until a round produces
// no closer candidate or MaxRounds is reached.
func (e *Engine) IterativeFindNode(target NodeID, cfg LookupConfig) ([]proto.SignedPeerInfo, error) {
	cfg = fillLookupDefaults(cfg)

	start := time.Now()
	queries := 0
	ok := false
	defer func() { e.metrics.ObserveLookup("FIND_NODE", queries, time.Since(start), ok) }()

	seen := make(map[NodeID]*candidate)
	seed := e.rt.Closest(target, cfg.K)
	for _, ni := range seed {
		c := &candidate{
			info: ni.ToSignedPeerInfo(),
			id:   ni.NodeID,
			addr: ni.Addr(),
			dist: Xor(ni.NodeID, target),
		}
		seen[ni.NodeID] = c
	}

	closestDist := func() (NodeID, bool) {
		var best NodeID
		found := false
		for _, c := range seen {
			if !found || Less(c.dist, best) {
				best = c.dist
				found = true
			}
		}
		return best, found
	}

	for round := 0; round < cfg.MaxRounds; round++ {
		prevBest, hadBest := closestDist()

		batch := pickUnqueried(seen, cfg.Alpha)
		if len(batch) == 0 {
			break
		}

		type rpcResult struct {
			nodes []proto.SignedPeerInfo
		}
		results := make(chan rpcResult, len(batch))
		queries += len(batch)
		for _, c := range batch {
			c.queried = true
			go func(c *candidate) {
				nodes, err := e.FindNode(c.addr, target, cfg.RPCTimeout)
				if err != nil {
					results <- rpcResult{}
					return
				}
				results <- rpcResult{nodes: nodes}
			}(c)
		}
		for i := 0; i < len(batch); i++ {
			r := <-results
			for _, info := range r.nodes {
				if !proto.VerifyPeerInfo(info) {
					continue
				}
				id := NodeIDFromDeviceID(info.DeviceID)
				if id == e.self {
					continue
				}
				if _, exists := seen[id]; exists {
					continue
				}
				seen[id] = &candidate{
					info: info,
					id:   id,
					addr: info.IP + ":" + portString(info.Port),
					dist: Xor(id, target),
				}
				e.ObservePeer(info)
			}
		}

		newBest, hasBest := closestDist()
		if hadBest && hasBest && !Less(newBest, prevBest) {
			break
		}
	}

	ok = true
	return closestN(seen, target, cfg.K), nil
}

func fillLookupDefaults(cfg LookupConfig) LookupConfig {
	if cfg.Alpha <= 0 {
		cfg.Alpha = 3
	}
	if cfg.K <= 0 {
		cfg.K = 20
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 5 * time.Second
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 32
	}
	return cfg
}

func pickUnqueried(seen map[NodeID]*candidate, alpha int) []*candidate {
	all := make([]*candidate, 0, len(seen))
	for _, c := range seen {
		if !c.queried {
			all = append(all, c)
		}
	}
	sortCandidatesByDist(all)
	if len(all) > alpha {
		all = all[:alpha]
	}
	return all
}

func closestN(seen map[NodeID]*candidate, target NodeID, n int) []proto.SignedPeerInfo {
	all := make([]*candidate, 0, len(seen))
	for _, c := range seen {
		all = append(all, c)
	}
	sortCandidatesByDist(all)
	if len(all) > n {
		all = all[:n]
	}
	out := make([]proto.SignedPeerInfo, 0, len(all))
	for _, c := range all {
		out = append(out, c.info)
	}
	return out
}

func sortCandidatesByDist(c []*candidate) {
	for i := 1; i < len(c); i++ {
		j := i
		for j > 0 && Less(c[j].dist, c[j-1].dist) {
			c[j], c[j-1] = c[j-1], c[j]
			j--
		}
	}
}
