package dht

import "crypto/rand"

func readRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic("dht: crypto/rand unavailable: " + err.Error())
	}
}

// RandomNodeID returns a uniformly random NodeID, used to pick refresh
// targets (spec §4.6 bucket refresh).
func RandomNodeID() NodeID {
	var id NodeID
	readRandom(id[:])
	return id
}
