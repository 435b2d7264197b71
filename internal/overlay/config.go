package overlay

import "time"

// Config mirrors the recognized options table in spec §6, the same shape
// as the teacher's parknode.Config plus p2p.NodeConfig combined into one
// struct since this node has no separate CLI-facing config layer.
type Config struct {
	Username            string // self device-id; required
	UDPPort             int    // bind port, 0 = auto
	GossipInterval      time.Duration
	GossipPeerCount     int
	MessageTimeout      time.Duration
	PeerCleanupInterval time.Duration
	StunServer          string // "host:port" or "disabled"
	ForceLocalhost      bool
	Logger              Logger
}

// Logger is re-exported at package scope so callers of overlay.New don't
// need to import internal/telemetry directly.
type Logger interface {
	Printf(format string, args ...any)
}

// Default returns a Config with every documented default filled in,
// except Username, which has no default and must be supplied by the
// caller.
func Default() Config {
	return Config{
		UDPPort:             0,
		GossipInterval:      30 * time.Second,
		GossipPeerCount:     3,
		MessageTimeout:      30 * time.Second,
		PeerCleanupInterval: 60 * time.Second,
		StunServer:          "stun.l.google.com:19302",
		ForceLocalhost:      false,
	}
}
