// Package crypto implements the node's identity, key agreement and
// per-session AEAD, per spec §4.1. Long-term identity is Ed25519 signing
// keys, matching the teacher's internal/p2p/identity.go; key agreement
// reuses the X25519 Diffie-Hellman primitive that github.com/flynn/noise
// ships for its Noise_XX handshakes, without running a full handshake.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/flynn/noise"
)

// Identity is a node's long-term Ed25519 signing keypair. The node ID is
// not derived from it: internal/dht.NodeIDFromDeviceID hashes the
// device-id string. Identity itself only knows about signing.
type Identity struct {
	Priv ed25519.PrivateKey
	Pub  ed25519.PublicKey
}

// NewIdentity generates a fresh long-term signing keypair.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate identity: %w", err)
	}
	return &Identity{Priv: priv, Pub: pub}, nil
}

// IdentityFromSeed reconstructs an Identity deterministically from a
// 32-byte seed, letting a node keep the same identity/NodeID across
// restarts when the seed is persisted by the caller.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{Priv: priv, Pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign signs data with the identity's long-term key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.Priv, data)
}

// Verify checks a signature made by the holder of pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// Hex returns the identity's public key as a hex string. It is not the
// NodeID: internal/dht.NodeIDFromDeviceID hashes the device-id string.
func (id *Identity) Hex() string {
	return hex.EncodeToString(id.Pub)
}

// EphemeralKeypair is a per-session X25519 keypair used for ECDH during
// the authentication handshake (§4.7). It is discarded once the session
// key is derived.
type EphemeralKeypair struct {
	Private []byte
	Public  []byte
}

// dh is the DH function every ephemeral keypair and shared-secret
// computation in this package uses. It is exactly the primitive
// github.com/flynn/noise uses for Noise_XX's "e"/"ee" tokens; this package
// borrows it directly instead of running a full Noise handshake, since the
// wire messages here are the spec's own AUTH_CHALLENGE/AUTH_RESPONSE
// frames, not a Noise transcript.
var dh = noise.DH25519

// NewEphemeralKeypair generates a fresh X25519 keypair for one handshake.
func NewEphemeralKeypair() (EphemeralKeypair, error) {
	kp, err := dh.GenerateKeypair(rand.Reader)
	if err != nil {
		return EphemeralKeypair{}, fmt.Errorf("crypto: generate ephemeral keypair: %w", err)
	}
	return EphemeralKeypair{Private: kp.Private, Public: kp.Public}, nil
}

// ECDH computes the raw X25519 shared secret between a local private key
// and a remote public key.
func ECDH(localPriv, remotePub []byte) []byte {
	secret, err := dh.DH(localPriv, remotePub)
	if err != nil {
		panic(fmt.Errorf("crypto: ECDH: %w", err))
	}
	return secret
}
