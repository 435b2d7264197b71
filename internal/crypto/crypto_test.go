package crypto

import (
	"bytes"
	"testing"
)

func TestSignVerify(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	msg := []byte("hello overlay")
	sig := id.Sign(msg)
	if !Verify(id.Pub, msg, sig) {
		t.Fatalf("signature did not verify")
	}
	if Verify(id.Pub, []byte("tampered"), sig) {
		t.Fatalf("signature verified against the wrong message")
	}
}

func TestIdentityFromSeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)
	a, err := IdentityFromSeed(seed)
	if err != nil {
		t.Fatalf("IdentityFromSeed: %v", err)
	}
	b, err := IdentityFromSeed(seed)
	if err != nil {
		t.Fatalf("IdentityFromSeed: %v", err)
	}
	if !bytes.Equal(a.Pub, b.Pub) {
		t.Fatalf("same seed produced different public keys")
	}
}

func TestECDHAgreement(t *testing.T) {
	alice, err := NewEphemeralKeypair()
	if err != nil {
		t.Fatalf("alice keypair: %v", err)
	}
	bob, err := NewEphemeralKeypair()
	if err != nil {
		t.Fatalf("bob keypair: %v", err)
	}
	secretA := ECDH(alice.Private, bob.Public)
	secretB := ECDH(bob.Private, alice.Public)
	if !bytes.Equal(secretA, secretB) {
		t.Fatalf("ECDH shared secrets disagree")
	}
}

func TestDeriveSessionKeySymmetric(t *testing.T) {
	shared := bytes.Repeat([]byte{0x01}, 32)
	chalA := bytes.Repeat([]byte{0xAA}, 32)
	chalB := bytes.Repeat([]byte{0xBB}, 32)

	keyFromA, err := DeriveSessionKey(shared, chalA, chalB)
	if err != nil {
		t.Fatalf("DeriveSessionKey (A view): %v", err)
	}
	keyFromB, err := DeriveSessionKey(shared, chalB, chalA)
	if err != nil {
		t.Fatalf("DeriveSessionKey (B view): %v", err)
	}
	if !bytes.Equal(keyFromA, keyFromB) {
		t.Fatalf("session keys differ depending on which side calls DeriveSessionKey")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x07}, SessionKeySize)
	plaintext := []byte("the quick overlay network jumps over the lazy NAT")
	aad := []byte("peer-42")

	ct, err := Encrypt(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(ct, plaintext) {
		t.Fatalf("ciphertext equals plaintext")
	}

	pt, err := Decrypt(key, ct, aad)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", pt, plaintext)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x09}, SessionKeySize)
	ct, err := Encrypt(key, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF
	if _, err := Decrypt(key, ct, nil); err == nil {
		t.Fatalf("Decrypt accepted tampered ciphertext")
	}
}

func TestEncryptNoncesAreUnique(t *testing.T) {
	key := bytes.Repeat([]byte{0x03}, SessionKeySize)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ct, err := Encrypt(key, []byte("same plaintext every time"), nil)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		nonce := string(ct[:nonceSize])
		if seen[nonce] {
			t.Fatalf("nonce reuse detected")
		}
		seen[nonce] = true
	}
}
