package proto

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"

	"overlay-core/internal/errs"
)

// SignedPeerInfo is the DHT-visible tuple described in spec §3:
// (deviceId, ip, port, publicKey, timestamp, signature). The signature
// covers the concatenation of the other fields under the fixed canonical
// encoding in SignedPeerInfoPreimage.
type SignedPeerInfo struct {
	DeviceID  string
	IP        string
	Port      uint16
	PublicKey ed25519.PublicKey
	Timestamp time.Time
	Signature []byte
}

// signedPeerInfoPreimage is the exact byte sequence signed/verified: every
// field except the signature, in a fixed order. Lengths are length-prefixed
// so there is no ambiguity from variable-width strings.
func signedPeerInfoPreimage(p SignedPeerInfo) []byte {
	buf := make([]byte, 0, 64+len(p.DeviceID)+len(p.IP)+len(p.PublicKey))
	buf = appendLP8(buf, []byte(p.DeviceID))
	buf = appendLP8(buf, []byte(p.IP))
	buf = binary.BigEndian.AppendUint16(buf, p.Port)
	buf = appendLP16(buf, p.PublicKey)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.Timestamp.UTC().UnixMilli()))
	return buf
}

func appendLP8(buf, data []byte) []byte {
	buf = append(buf, byte(len(data)))
	return append(buf, data...)
}

func appendLP16(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(data)))
	return append(buf, data...)
}

// SignPeerInfo returns a copy of p with Signature filled in using priv,
// which must be the private half of p.PublicKey.
func SignPeerInfo(p SignedPeerInfo, priv ed25519.PrivateKey) SignedPeerInfo {
	p.Signature = ed25519.Sign(priv, signedPeerInfoPreimage(p))
	return p
}

// VerifyPeerInfo reports whether p's signature verifies under its own
// embedded public key, per the invariant in spec §3: "any SignedPeerInfo
// accepted from the network must verify under its own embedded public key;
// otherwise it is discarded."
func VerifyPeerInfo(p SignedPeerInfo) bool {
	if len(p.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(p.PublicKey, signedPeerInfoPreimage(p), p.Signature)
}

// EncodeSignedPeerInfo writes the §6 wire form:
// dlen(1)|d|ilen(1)|i|port(2)|klen(2)|k_pem|slen(2)|sig|ts(8).
// "k_pem" is the raw public key bytes; the teacher's pack has no PEM
// encoder for Ed25519 keys in play here, and the spec only requires a
// length-prefixed key blob, so the raw 32-byte key fills that slot.
func EncodeSignedPeerInfo(p SignedPeerInfo) []byte {
	buf := make([]byte, 0, 128+len(p.DeviceID)+len(p.IP)+len(p.Signature))
	buf = appendLP8(buf, []byte(p.DeviceID))
	buf = appendLP8(buf, []byte(p.IP))
	buf = binary.BigEndian.AppendUint16(buf, p.Port)
	buf = appendLP16(buf, p.PublicKey)
	buf = appendLP16(buf, p.Signature)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.Timestamp.UTC().UnixMilli()))
	return buf
}

// DecodeSignedPeerInfo parses the §6 wire form produced by
// EncodeSignedPeerInfo, returning the number of bytes consumed.
func DecodeSignedPeerInfo(b []byte) (SignedPeerInfo, int, error) {
	var p SignedPeerInfo
	off := 0

	d, n, err := readLP8(b, off)
	if err != nil {
		return p, 0, err
	}
	p.DeviceID = string(d)
	off += n

	ip, n, err := readLP8(b, off)
	if err != nil {
		return p, 0, err
	}
	p.IP = string(ip)
	off += n

	if len(b) < off+2 {
		return p, 0, fmt.Errorf("%w: truncated port", errs.ErrMalformedEnvelope)
	}
	p.Port = binary.BigEndian.Uint16(b[off:])
	off += 2

	key, n, err := readLP16(b, off)
	if err != nil {
		return p, 0, err
	}
	p.PublicKey = ed25519.PublicKey(key)
	off += n

	sig, n, err := readLP16(b, off)
	if err != nil {
		return p, 0, err
	}
	p.Signature = sig
	off += n

	if len(b) < off+8 {
		return p, 0, fmt.Errorf("%w: truncated timestamp", errs.ErrMalformedEnvelope)
	}
	ms := binary.BigEndian.Uint64(b[off:])
	p.Timestamp = time.UnixMilli(int64(ms)).UTC()
	off += 8

	return p, off, nil
}

func readLP8(b []byte, off int) ([]byte, int, error) {
	if len(b) < off+1 {
		return nil, 0, fmt.Errorf("%w: truncated length byte", errs.ErrMalformedEnvelope)
	}
	n := int(b[off])
	if len(b) < off+1+n {
		return nil, 0, fmt.Errorf("%w: truncated field", errs.ErrMalformedEnvelope)
	}
	return b[off+1 : off+1+n], 1 + n, nil
}

func readLP16(b []byte, off int) ([]byte, int, error) {
	if len(b) < off+2 {
		return nil, 0, fmt.Errorf("%w: truncated length u16", errs.ErrMalformedEnvelope)
	}
	n := int(binary.BigEndian.Uint16(b[off:]))
	if len(b) < off+2+n {
		return nil, 0, fmt.Errorf("%w: truncated field", errs.ErrMalformedEnvelope)
	}
	return b[off+2 : off+2+n], 2 + n, nil
}
