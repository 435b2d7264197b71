package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeySize is the AES-256 key size derived per authenticated peer.
const SessionKeySize = 32

// DeriveSessionKey implements the KDF referenced in spec §4.1(b): an
// HKDF-SHA256 expansion of the raw ECDH shared secret, salted with both
// parties' challenge nonces so a replayed handshake never reproduces a
// past session key.
func DeriveSessionKey(sharedSecret, localChallenge, remoteChallenge []byte) ([]byte, error) {
	salt := make([]byte, 0, len(localChallenge)+len(remoteChallenge))
	// Sort the two nonces so both sides compute the same salt regardless
	// of which one is "local" from their own point of view.
	a, b := localChallenge, remoteChallenge
	if bytesGreater(a, b) {
		a, b = b, a
	}
	salt = append(salt, a...)
	salt = append(salt, b...)

	kdf := hkdf.New(sha256.New, sharedSecret, salt, []byte("overlay-session-key-v1"))
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: derive session key: %w", err)
	}
	return key, nil
}

func bytesGreater(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) > len(b)
}
