package overlay

import "net"

// normalizeIP applies the force_localhost config rule (spec §6) to a bare
// IP string, collapsing it to the loopback interface so a whole overlay
// can run co-located on one box during development without touching NAT.
// It is applied at this package's addressing boundary rather than threaded
// through peertable/auth/gossip/dht, so those packages stay address-shape
// agnostic: to inbound source addresses, self's advertised IP, addresses
// passed to Authenticate/AddDonor, every outbound datagram's destination
// (rawSendEnvelope), and the addresses Peers returns. Entries that gossip
// writes into the peer table keep the IP carried in the snapshot; they
// are normalized when read through those paths, not when stored.
func normalizeIP(cfg Config, ip string) string {
	if !cfg.ForceLocalhost {
		return ip
	}
	return "127.0.0.1"
}

// normalizeAddr applies the same rule to a full "host:port" address,
// leaving the port untouched.
func normalizeAddr(cfg Config, addr string) string {
	if !cfg.ForceLocalhost {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	_ = host
	return net.JoinHostPort("127.0.0.1", port)
}
