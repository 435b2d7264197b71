package overlay

import "time"

// PeerSnapshot is a read-only view of one peer table entry, returned by
// Node.Peers so callers never see the live table.
type PeerSnapshot struct {
	DeviceID      string
	Addr          string
	Port          uint16
	Authenticated bool
	LastSeen      time.Time
}
