package overlay

import (
	"fmt"
	"net"

	"overlay-core/internal/crypto"
	"overlay-core/internal/proto"
)

// handleInbound is the Socket.Serve callback: one cooperative dispatch
// point demultiplexing first by envelope Kind, then by AppTag for
// DATA-kind envelopes, per spec §4.9. It never blocks on application
// logic longer than the handler it calls into.
func (n *Node) handleInbound(data []byte, from *net.UDPAddr) {
	env, err := proto.Decode(data)
	if err != nil {
		n.logger.Printf("overlay: dropping malformed datagram from %s: %v", from, err)
		return
	}
	ip := normalizeIP(n.cfg, from.IP.String())
	addr := net.JoinHostPort(ip, portString(from.Port))

	// Every inbound envelope refreshes the sender's last-seen time, so a
	// peer actively exchanging DATA is never evicted as inactive out from
	// under itself. A FromPeerID spoofing our own username is never
	// upserted; self's own table entry is only ever touched by Start and
	// cleanupLoop.
	if env.FromPeerID != n.cfg.Username {
		n.peers.Upsert(env.FromPeerID, ip, uint16(from.Port), nil)
	}

	// ACK/NACK/gossip aren't themselves reliability-tracked, so a bad
	// checksum on one of those is just dropped; a bad checksum on a DATA
	// envelope is NACKed, since the sender may be waiting on exactly that.
	if env.Type != proto.KindData && !proto.VerifyChecksum(env) {
		n.logger.Printf("overlay: dropping %s from %s with bad checksum", env.Type, addr)
		return
	}

	switch env.Type {
	case proto.KindAck:
		n.reliability.HandleAck(addr, env.SequenceNumber)
		return
	case proto.KindNack:
		_, reason := proto.ParseNack(env.Payload)
		n.reliability.HandleNack(addr, env.SequenceNumber, reason)
		return
	case proto.KindRoutingTable:
		if err := n.gossipMgr.HandleSnapshot(env); err != nil {
			n.logger.Printf("overlay: gossip snapshot from %s: %v", addr, err)
		}
		return
	case proto.KindData:
		n.handleData(addr, env)
		return
	default:
		n.logger.Printf("overlay: unhandled envelope kind %s from %s", env.Type, addr)
	}
}

func (n *Node) handleData(addr string, env proto.Envelope) {
	if !proto.VerifyChecksum(env) {
		n.sendNack(addr, env.SequenceNumber, "checksum mismatch")
		return
	}

	// A retransmitted DATA envelope (sender never saw our first ACK) is
	// ACKed again but not reprocessed or re-delivered to the application.
	if n.reliability.IsDuplicate(env.FromPeerID, env.SequenceNumber) {
		n.sendAck(addr, env.SequenceNumber)
		return
	}

	tag, body := proto.UnwrapTagged(env.Payload)
	var procErr error
	switch tag {
	case proto.TagAuthChallenge:
		procErr = n.handleAuthChallenge(addr, body)
	case proto.TagAuthResponse:
		procErr = n.handleAuthResponse(addr, body)
	case proto.TagDHTRPC:
		procErr = n.handleDHTFrame(addr, body)
	case proto.TagContentAnnouncement:
		procErr = n.handleContentAnnouncement(env.FromPeerID, body)
	case proto.TagContentRequest:
		procErr = n.handleContentRequest(addr, env.FromPeerID, body)
	case proto.TagContentData:
		procErr = n.handleContentData(body)
	case proto.TagPlainText:
		procErr = n.handlePlainMessage(env, body)
	default:
		// Unknown tag: deliver the raw body to the application unchanged,
		// per spec §9's "tagged variant with an Unknown(bytes) fallback."
		n.deliverMessage(env.FromPeerID, body)
	}

	if procErr != nil {
		n.sendNack(addr, env.SequenceNumber, procErr.Error())
		return
	}
	n.sendAck(addr, env.SequenceNumber)
}

func (n *Node) sendAck(addr string, seq uint32) {
	env := proto.Checksummed(proto.Envelope{
		Type:           proto.KindAck,
		FromPeerID:     n.cfg.Username,
		Payload:        proto.AckPayload(seq),
		SequenceNumber: seq,
	})
	if err := n.rawSendEnvelope(addr, env); err != nil {
		n.logger.Printf("overlay: ack to %s failed: %v", addr, err)
	}
}

func (n *Node) sendNack(addr string, seq uint32, reason string) {
	env := proto.Checksummed(proto.Envelope{
		Type:           proto.KindNack,
		FromPeerID:     n.cfg.Username,
		Payload:        proto.NackPayload(seq, reason),
		SequenceNumber: seq,
	})
	if err := n.rawSendEnvelope(addr, env); err != nil {
		n.logger.Printf("overlay: nack to %s failed: %v", addr, err)
	}
}

func (n *Node) handleAuthChallenge(addr string, body []byte) error {
	c, err := proto.UnmarshalAuthChallenge(body)
	if err != nil {
		return fmt.Errorf("overlay: unmarshal auth challenge: %w", err)
	}
	return n.authMgr.HandleChallenge(addr, c)
}

func (n *Node) handleAuthResponse(addr string, body []byte) error {
	r, err := proto.UnmarshalAuthResponse(body)
	if err != nil {
		return fmt.Errorf("overlay: unmarshal auth response: %w", err)
	}
	return n.authMgr.HandleResponse(addr, r)
}

func (n *Node) handleDHTFrame(addr string, body []byte) error {
	frame, err := proto.DecodeDHTFrame(body)
	if err != nil {
		return fmt.Errorf("overlay: decode dht frame: %w", err)
	}
	n.dhtEngine.HandleFrame(addr, frame)
	return nil
}

func (n *Node) handlePlainMessage(env proto.Envelope, wire []byte) error {
	if len(wire) == 0 {
		n.deliverMessage(env.FromPeerID, nil)
		return nil
	}
	flag, body := wire[0], wire[1:]
	if flag == plainFlagClear {
		n.deliverMessage(env.FromPeerID, body)
		return nil
	}

	peer, ok := n.peers.Get(env.FromPeerID)
	if !ok || len(peer.SessionKey) == 0 {
		return fmt.Errorf("overlay: no session key to decrypt message from %s", env.FromPeerID)
	}
	plaintext, err := crypto.Decrypt(peer.SessionKey, body, []byte(n.cfg.Username))
	if err != nil {
		return fmt.Errorf("overlay: decrypt message from %s: %w", env.FromPeerID, err)
	}
	n.deliverMessage(env.FromPeerID, plaintext)
	return nil
}

func (n *Node) deliverMessage(fromDeviceID string, payload []byte) {
	select {
	case n.messages <- Message{FromDeviceID: fromDeviceID, Payload: payload}:
	default:
		n.logger.Printf("overlay: message channel full, dropping delivery from %s", fromDeviceID)
	}
}

func portString(p int) string {
	return fmt.Sprintf("%d", p)
}
