package overlay

// Authenticate initiates the AUTH_CHALLENGE/AUTH_RESPONSE handshake (spec
// §4.7) against a peer claiming deviceID at addr. It returns as soon as
// the challenge is sent; completion is observed via the Events channel.
func (n *Node) Authenticate(deviceID, addr string) error {
	return n.authMgr.Initiate(deviceID, normalizeAddr(n.cfg, addr))
}

// Peers returns a snapshot of every known peer, authenticated or not.
func (n *Node) Peers() []PeerSnapshot {
	snap := n.peers.Snapshot()
	out := make([]PeerSnapshot, 0, len(snap))
	for _, p := range snap {
		out = append(out, PeerSnapshot{
			DeviceID:      p.DeviceID,
			Addr:          normalizeIP(n.cfg, p.IP),
			Port:          p.Port,
			Authenticated: p.Authenticated,
			LastSeen:      p.LastSeen,
		})
	}
	return out
}
