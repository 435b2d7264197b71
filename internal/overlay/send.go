package overlay

import (
	"fmt"
	"net"
	"time"

	"overlay-core/internal/crypto"
	"overlay-core/internal/errs"
	"overlay-core/internal/proto"
)

// plainFlag prefixes every TagPlainText body with one byte distinguishing
// ciphertext from cleartext, since AES-256-GCM output is indistinguishable
// from random bytes and the receiver otherwise has no way to tell whether
// to decrypt.
const (
	plainFlagClear     = 0x00
	plainFlagEncrypted = 0x01
)

// rawSendEnvelope encodes and transmits env to addr as a single UDP
// datagram. It is the SendFunc both reliability.Manager and gossip.Manager
// are built around. Every outbound datagram passes through here, so the
// force_localhost rule is applied to addr here.
func (n *Node) rawSendEnvelope(addr string, env proto.Envelope) error {
	udpAddr, err := net.ResolveUDPAddr("udp", normalizeAddr(n.cfg, addr))
	if err != nil {
		return fmt.Errorf("overlay: resolve %s: %w", addr, err)
	}
	data, err := proto.Encode(env)
	if err != nil {
		return fmt.Errorf("overlay: encode envelope: %w", err)
	}
	return n.socket.SendTo(udpAddr, data)
}

// sendTagged wraps body under tag into a DATA envelope and transmits it
// unreliably, the SendFunc auth.Manager and dhtTransport are built on.
func (n *Node) sendTagged(addr string, tag proto.AppTag, body []byte) error {
	env := proto.Envelope{
		Type:           proto.KindData,
		FromPeerID:     n.cfg.Username,
		Payload:        proto.WrapTagged(tag, body),
		SequenceNumber: n.nextSeq(),
		Timestamp:      time.Now(),
	}
	return n.rawSendEnvelope(addr, proto.Checksummed(env))
}

// Send delivers payload to recipientDeviceID, per spec §4.9. If encrypt is
// true and no session key has been established with that peer, Send fails
// without transmitting anything. If requireAck is true, Send blocks (up to
// cfg.MessageTimeout) for the reliability layer's ACK/NACK outcome;
// otherwise it returns true as soon as the datagram is handed to the
// socket.
func (n *Node) Send(recipientDeviceID string, payload []byte, requireAck, encrypt bool) bool {
	peer, ok := n.peers.Get(recipientDeviceID)
	if !ok {
		n.logger.Printf("overlay: send to unknown peer %s", recipientDeviceID)
		return false
	}

	body := payload
	flag := byte(plainFlagClear)
	if encrypt {
		if len(peer.SessionKey) == 0 {
			n.logger.Printf("overlay: %v: %s", errs.ErrNoSession, recipientDeviceID)
			return false
		}
		ciphertext, err := crypto.Encrypt(peer.SessionKey, payload, []byte(recipientDeviceID))
		if err != nil {
			n.logger.Printf("overlay: encrypt to %s failed: %v", recipientDeviceID, err)
			return false
		}
		body = ciphertext
		flag = plainFlagEncrypted
	}

	wire := append([]byte{flag}, body...)
	addr := net.JoinHostPort(peer.IP, fmt.Sprintf("%d", peer.Port))

	env := proto.Envelope{
		Type:           proto.KindData,
		FromPeerID:     n.cfg.Username,
		ToPeerID:       recipientDeviceID,
		Payload:        proto.WrapTagged(proto.TagPlainText, wire),
		SequenceNumber: n.nextSeq(),
		Timestamp:      time.Now(),
	}
	env = proto.Checksummed(env)

	if !requireAck {
		if err := n.rawSendEnvelope(addr, env); err != nil {
			n.logger.Printf("overlay: send to %s failed: %v", recipientDeviceID, err)
			return false
		}
		return true
	}

	result := n.reliability.SendReliable(addr, env)
	select {
	case err := <-result:
		if err != nil {
			n.logger.Printf("overlay: reliable send to %s failed: %v", recipientDeviceID, err)
			return false
		}
		return true
	case <-time.After(n.cfg.MessageTimeout):
		n.logger.Printf("overlay: reliable send to %s timed out waiting on result channel", recipientDeviceID)
		return false
	}
}
