// Package auth implements the two-step AUTH_CHALLENGE/AUTH_RESPONSE
// handshake from spec §4.7: the initiator proves its signing identity and
// offers an ephemeral X25519 key, the responder echoes a signed response
// with its own ephemeral key, and both sides derive the same AES-256-GCM
// session key via ECDH+HKDF. There is no direct teacher precedent for
// this exact exchange (the teacher secures transport with a full Noise_XX
// handshake instead); the send/await/verify sequencing follows the shape
// of the teacher's internal/p2p/session.go establishPeer flow.
package auth

import (
	"crypto/rand"
	"fmt"
	"sync"

	"overlay-core/internal/crypto"
	"overlay-core/internal/peertable"
	"overlay-core/internal/proto"
	"overlay-core/internal/telemetry"
)

// SendFunc delivers a tagged application payload to addr. The caller
// (overlay.Node) is responsible for wrapping it into a DATA envelope.
type SendFunc func(addr string, tag proto.AppTag, body []byte) error

// OnAuthenticated is invoked once a peer's session key is installed, so
// the caller can react (spec §4.7: "triggers immediate gossip").
type OnAuthenticated func(deviceID string)

type outstanding struct {
	ephemeral crypto.EphemeralKeypair
	challenge [32]byte
	addr      string
}

// Manager drives both sides of the handshake.
type Manager struct {
	selfDeviceID string
	identity     *crypto.Identity
	table        *peertable.Table
	send         SendFunc
	onAuth       OnAuthenticated
	logger       telemetry.Logger

	mu          sync.Mutex
	outstanding map[string]outstanding // keyed by responder device id
}

func NewManager(selfDeviceID string, identity *crypto.Identity, table *peertable.Table, send SendFunc, onAuth OnAuthenticated, logger telemetry.Logger) *Manager {
	if logger == nil {
		logger = telemetry.Discard{}
	}
	return &Manager{
		selfDeviceID: selfDeviceID,
		identity:     identity,
		table:        table,
		send:         send,
		onAuth:       onAuth,
		logger:       logger,
		outstanding:  make(map[string]outstanding),
	}
}

// Initiate sends an AUTH_CHALLENGE to the peer at addr claiming deviceID.
func (m *Manager) Initiate(deviceID, addr string) error {
	ephemeral, err := crypto.NewEphemeralKeypair()
	if err != nil {
		return fmt.Errorf("auth: ephemeral keypair: %w", err)
	}
	var challenge [32]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return fmt.Errorf("auth: challenge nonce: %w", err)
	}

	c := proto.AuthChallenge{
		DeviceID:      m.selfDeviceID,
		Challenge:     challenge,
		X25519Pub:     ephemeral.Public,
		SigningPub:    m.identity.Pub,
		InitiatorAddr: addr,
	}
	c.InitiatorSig = m.identity.Sign(challengePreimage(m.selfDeviceID, challenge, ephemeral.Public))

	m.mu.Lock()
	m.outstanding[deviceID] = outstanding{ephemeral: ephemeral, challenge: challenge, addr: addr}
	m.mu.Unlock()

	return m.send(addr, proto.TagAuthChallenge, proto.MarshalAuthChallenge(c))
}

// HandleChallenge processes an inbound AUTH_CHALLENGE as the responder:
// verify the initiator's signature, then reply with an AUTH_RESPONSE and
// install the session key locally.
func (m *Manager) HandleChallenge(fromAddr string, c proto.AuthChallenge) error {
	if c.DeviceID == "" || len(c.SigningPub) == 0 ||
		!crypto.Verify(c.SigningPub, challengePreimage(c.DeviceID, c.Challenge, c.X25519Pub), c.InitiatorSig) {
		return fmt.Errorf("auth: challenge signature verification failed")
	}

	ephemeral, err := crypto.NewEphemeralKeypair()
	if err != nil {
		return fmt.Errorf("auth: ephemeral keypair: %w", err)
	}

	shared := crypto.ECDH(ephemeral.Private, c.X25519Pub)
	sessionKey, err := crypto.DeriveSessionKey(shared, c.Challenge[:], c.Challenge[:])
	if err != nil {
		return fmt.Errorf("auth: derive session key: %w", err)
	}

	m.table.Upsert(c.DeviceID, hostOf(fromAddr), portOf(fromAddr), c.SigningPub)
	m.table.MarkAuthenticated(c.DeviceID, sessionKey)

	resp := proto.AuthResponse{
		DeviceID:   m.selfDeviceID,
		Challenge:  c.Challenge,
		SigningPub: m.identity.Pub,
		X25519Pub:  ephemeral.Public,
	}
	resp.Signature = m.identity.Sign(responsePreimage(m.selfDeviceID, c.Challenge))

	if err := m.send(fromAddr, proto.TagAuthResponse, proto.MarshalAuthResponse(resp)); err != nil {
		return fmt.Errorf("auth: send response: %w", err)
	}

	if m.onAuth != nil {
		m.onAuth(c.DeviceID)
	}
	return nil
}

// HandleResponse processes an inbound AUTH_RESPONSE as the original
// initiator: verify the responder's signature over the echoed challenge,
// derive and install the session key.
func (m *Manager) HandleResponse(fromAddr string, r proto.AuthResponse) error {
	if r.DeviceID == "" {
		return fmt.Errorf("auth: response carries no device id")
	}

	m.mu.Lock()
	pending, ok := m.outstanding[r.DeviceID]
	delete(m.outstanding, r.DeviceID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("auth: no outstanding challenge for %s", r.DeviceID)
	}
	if pending.challenge != r.Challenge {
		return fmt.Errorf("auth: response echoes the wrong challenge")
	}
	if !crypto.Verify(r.SigningPub, responsePreimage(r.DeviceID, r.Challenge), r.Signature) {
		return fmt.Errorf("auth: response signature verification failed")
	}

	shared := crypto.ECDH(pending.ephemeral.Private, r.X25519Pub)
	sessionKey, err := crypto.DeriveSessionKey(shared, r.Challenge[:], r.Challenge[:])
	if err != nil {
		return fmt.Errorf("auth: derive session key: %w", err)
	}

	m.table.Upsert(r.DeviceID, hostOf(fromAddr), portOf(fromAddr), r.SigningPub)
	m.table.MarkAuthenticated(r.DeviceID, sessionKey)

	if m.onAuth != nil {
		m.onAuth(r.DeviceID)
	}
	return nil
}

// challengePreimage is the exact bytes the initiator signs: its claimed
// device id, the random challenge, and its ephemeral public key, binding
// the signature to all three.
func challengePreimage(deviceID string, challenge [32]byte, x25519Pub []byte) []byte {
	buf := make([]byte, 0, len(deviceID)+32+len(x25519Pub))
	buf = append(buf, []byte(deviceID)...)
	buf = append(buf, challenge[:]...)
	return append(buf, x25519Pub...)
}

// responsePreimage is the exact bytes the responder signs: its own
// device id followed by the echoed challenge.
func responsePreimage(deviceID string, challenge [32]byte) []byte {
	buf := make([]byte, 0, len(deviceID)+32)
	buf = append(buf, []byte(deviceID)...)
	return append(buf, challenge[:]...)
}
