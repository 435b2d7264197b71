// Package proto defines the on-wire types shared by every layer of the
// overlay: the JSON application envelope (§3/§6) and the binary DHT RPC
// frame (§6). The two encodings are kept deliberately separate — the spec
// forbids "unifying" them, since the checksum and signatures depend on the
// exact byte preimages defined here.
package proto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"overlay-core/internal/errs"
)

// Kind is the envelope's message kind (§6 type codes 0..6).
type Kind uint8

const (
	KindData         Kind = 0
	KindAck          Kind = 1
	KindNack         Kind = 2
	KindHeartbeat    Kind = 3
	KindRoutingTable Kind = 4
	KindPerformance  Kind = 5
	KindFile         Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindAck:
		return "ACK"
	case KindNack:
		return "NACK"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindRoutingTable:
		return "ROUTING_TABLE"
	case KindPerformance:
		return "PERFORMANCE"
	case KindFile:
		return "FILE"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Envelope is the on-wire unit described in spec §3/§6.
type Envelope struct {
	Type           Kind
	FromPeerID     string
	ToPeerID       string // optional; empty means "no specific recipient"
	Payload        []byte
	Checksum       [32]byte
	SequenceNumber uint32
	Timestamp      time.Time
}

// wireEnvelope is the canonical JSON shape. Field order in the struct
// controls the order emitted by encoding/json for struct values, but the
// checksum preimage is built explicitly below so that it never depends on
// reflection order — only on the rule stated here.
type wireEnvelope struct {
	Type           int    `json:"type"`
	FromPeerID     string `json:"fromPeerId"`
	ToPeerID       string `json:"toPeerId,omitempty"`
	Payload        string `json:"payload"` // base64, via json []byte
	Checksum       string `json:"checksum,omitempty"`
	SequenceNumber uint32 `json:"sequenceNumber"`
	Timestamp      string `json:"timestamp"`
}

// checksumPreimage builds the exact byte sequence the checksum (and a
// receiver's re-verification) is computed over: the canonical JSON encoding
// of every field except the checksum itself, with keys in the fixed order
// below. This avoids any ambiguity from Go map/struct field reordering.
func checksumPreimage(e Envelope) []byte {
	fields := []struct {
		key string
		val any
	}{
		{"type", int(e.Type)},
		{"fromPeerId", e.FromPeerID},
		{"toPeerId", e.ToPeerID},
		{"payload", e.Payload},
		{"sequenceNumber", e.SequenceNumber},
		{"timestamp", e.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].key < fields[j].key })

	obj := make(map[string]any, len(fields))
	for _, f := range fields {
		obj[f.key] = f.val
	}
	// json.Marshal on a string-keyed map always emits keys in
	// sorted order, which is what makes this preimage canonical.
	b, err := json.Marshal(obj)
	if err != nil {
		panic(fmt.Sprintf("proto: checksum preimage: %v", err))
	}
	return b
}

// Checksummed returns a copy of e with Checksum set to the SHA-256 of its
// canonical preimage.
func Checksummed(e Envelope) Envelope {
	e.Checksum = sha256.Sum256(checksumPreimage(e))
	return e
}

// VerifyChecksum reports whether e.Checksum matches the recomputed
// checksum of e's other fields.
func VerifyChecksum(e Envelope) bool {
	want := sha256.Sum256(checksumPreimage(e))
	return want == e.Checksum
}

// Encode serializes an envelope to its canonical wire JSON.
func Encode(e Envelope) ([]byte, error) {
	w := wireEnvelope{
		Type:           int(e.Type),
		FromPeerID:     e.FromPeerID,
		ToPeerID:       e.ToPeerID,
		SequenceNumber: e.SequenceNumber,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Checksum:       fmt.Sprintf("%x", e.Checksum),
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("proto: marshal payload: %w", err)
	}
	// json.Marshal([]byte) already base64-encodes into a quoted string; we
	// want the raw base64 token inside our own string field, so decode the
	// quotes back out.
	var b64 string
	if err := json.Unmarshal(payload, &b64); err != nil {
		return nil, fmt.Errorf("proto: re-decode payload: %w", err)
	}
	w.Payload = b64
	return json.Marshal(w)
}

// Decode parses the canonical wire JSON into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errs.ErrMalformedEnvelope, err)
	}
	if w.Type < 0 || w.Type > 6 {
		return Envelope{}, fmt.Errorf("%w: type %d out of range", errs.ErrMalformedEnvelope, w.Type)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad timestamp: %v", errs.ErrMalformedEnvelope, err)
	}
	payloadJSON, err := json.Marshal(w.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errs.ErrMalformedEnvelope, err)
	}
	var payload []byte
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return Envelope{}, fmt.Errorf("%w: bad payload: %v", errs.ErrMalformedEnvelope, err)
	}
	e := Envelope{
		Type:           Kind(w.Type),
		FromPeerID:     w.FromPeerID,
		ToPeerID:       w.ToPeerID,
		Payload:        payload,
		SequenceNumber: w.SequenceNumber,
		Timestamp:      ts,
	}
	if w.Checksum != "" {
		var sum [32]byte
		n, err := hex.Decode(sum[:], []byte(w.Checksum))
		if err != nil || n != len(sum) {
			return Envelope{}, fmt.Errorf("%w: bad checksum encoding", errs.ErrMalformedEnvelope)
		}
		e.Checksum = sum
	}
	return e, nil
}

// AckPayload builds the single-byte ACK payload for the given sequence
// number (§6: "ACK payload is a single byte equal to the acknowledged
// sequence number"). Only the low byte of seq is representable; reliability
// correlates ACKs by the full pending-message key, not by this byte alone.
func AckPayload(seq uint32) []byte {
	return []byte{byte(seq)}
}

// NackPayload builds the NACK payload: the sequence byte followed by a
// UTF-8 reason string.
func NackPayload(seq uint32, reason string) []byte {
	return append([]byte{byte(seq)}, []byte(reason)...)
}

// ParseNack splits a NACK payload back into its sequence byte and reason.
func ParseNack(payload []byte) (seqByte byte, reason string) {
	if len(payload) == 0 {
		return 0, ""
	}
	return payload[0], string(payload[1:])
}
