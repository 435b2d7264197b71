package overlay

import "overlay-core/internal/proto"

// dhtTransport adapts Node's outbound send path to dht.Transport, so the
// DHT engine stays ignorant of envelopes, tags, and reliability — it only
// ever moves a binary DHTFrame to an address.
type dhtTransport struct {
	node *Node
}

func (t dhtTransport) SendDHTFrame(addr string, frame proto.DHTFrame) error {
	return t.node.sendTagged(addr, proto.TagDHTRPC, proto.EncodeDHTFrame(frame))
}
