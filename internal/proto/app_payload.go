package proto

import (
	"encoding/json"
	"time"
)

// AppTag is the one-byte discriminator prefixing the opaque payload of a
// DATA-kind Envelope, letting Node Core (§4.9) demultiplex without
// depending on the envelope Type alone. The spec's "tagged variant with an
// Unknown(bytes) fallback" design note (§9) is implemented here: any tag
// Node Core does not recognize is delivered to the application unchanged.
type AppTag byte

const (
	TagAuthChallenge       AppTag = 0x01
	TagAuthResponse        AppTag = 0x02
	TagContentAnnouncement AppTag = 0x03
	TagContentRequest      AppTag = 0x04
	TagContentData         AppTag = 0x05
	TagDHTRPC              AppTag = 0x06
	TagPlainText           AppTag = 0x00
)

// WrapTagged prefixes body with tag, producing the bytes carried as a DATA
// envelope's Payload.
func WrapTagged(tag AppTag, body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(tag))
	return append(out, body...)
}

// UnwrapTagged splits a DATA envelope payload back into its tag and body.
// An empty payload unwraps to (TagPlainText, nil).
func UnwrapTagged(payload []byte) (AppTag, []byte) {
	if len(payload) == 0 {
		return TagPlainText, nil
	}
	return AppTag(payload[0]), payload[1:]
}

// AuthChallenge is the initiator's first handshake message (§4.7 step 1).
// DeviceID carries the initiator's self-declared device-id (§2's
// "username" config option) so the responder can key its peer table by
// the same string the initiator's NodeID is derived from, rather than by
// key material.
type AuthChallenge struct {
	DeviceID      string
	Challenge     [32]byte
	X25519Pub     []byte
	SigningPub    []byte
	InitiatorSig  []byte // signs DeviceID||Challenge||X25519Pub under SigningPub
	InitiatorAddr string // observed/advertised endpoint, for auth bootstrap
}

type wireAuthChallenge struct {
	DeviceID      string `json:"deviceId"`
	Challenge     string `json:"challenge"`
	X25519Pub     string `json:"x25519Pub"`
	SigningPub    string `json:"signingPub"`
	Sig           string `json:"sig"`
	InitiatorAddr string `json:"initiatorAddr,omitempty"`
}

// AuthResponse is the responder's reply (§4.7 step 2).
type AuthResponse struct {
	DeviceID   string
	Challenge  [32]byte
	Signature  []byte // signature_B(DeviceID||Challenge) under SigningPub
	SigningPub []byte
	X25519Pub  []byte
}

type wireAuthResponse struct {
	DeviceID   string `json:"deviceId"`
	Challenge  string `json:"challenge"`
	Signature  string `json:"signature"`
	SigningPub string `json:"signingPub"`
	X25519Pub  string `json:"x25519Pub"`
}

// MarshalAuthChallenge / MarshalAuthResponse use JSON with base64 byte
// fields via encoding/json's native []byte handling, matching the
// teacher's MustMarshal-everywhere style in internal/proto/helpers.go.
func MarshalAuthChallenge(c AuthChallenge) []byte {
	return mustMarshal(wireAuthChallenge{
		DeviceID:      c.DeviceID,
		Challenge:     b64(c.Challenge[:]),
		X25519Pub:     b64(c.X25519Pub),
		SigningPub:    b64(c.SigningPub),
		Sig:           b64(c.InitiatorSig),
		InitiatorAddr: c.InitiatorAddr,
	})
}

func UnmarshalAuthChallenge(data []byte) (AuthChallenge, error) {
	var w wireAuthChallenge
	if err := json.Unmarshal(data, &w); err != nil {
		return AuthChallenge{}, err
	}
	var c AuthChallenge
	c.DeviceID = w.DeviceID
	ch, err := unb64(w.Challenge)
	if err != nil {
		return AuthChallenge{}, err
	}
	copy(c.Challenge[:], ch)
	if c.X25519Pub, err = unb64(w.X25519Pub); err != nil {
		return AuthChallenge{}, err
	}
	if c.SigningPub, err = unb64(w.SigningPub); err != nil {
		return AuthChallenge{}, err
	}
	if c.InitiatorSig, err = unb64(w.Sig); err != nil {
		return AuthChallenge{}, err
	}
	c.InitiatorAddr = w.InitiatorAddr
	return c, nil
}

func MarshalAuthResponse(r AuthResponse) []byte {
	return mustMarshal(wireAuthResponse{
		DeviceID:   r.DeviceID,
		Challenge:  b64(r.Challenge[:]),
		Signature:  b64(r.Signature),
		SigningPub: b64(r.SigningPub),
		X25519Pub:  b64(r.X25519Pub),
	})
}

func UnmarshalAuthResponse(data []byte) (AuthResponse, error) {
	var w wireAuthResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return AuthResponse{}, err
	}
	var r AuthResponse
	r.DeviceID = w.DeviceID
	ch, err := unb64(w.Challenge)
	if err != nil {
		return AuthResponse{}, err
	}
	copy(r.Challenge[:], ch)
	if r.Signature, err = unb64(w.Signature); err != nil {
		return AuthResponse{}, err
	}
	if r.SigningPub, err = unb64(w.SigningPub); err != nil {
		return AuthResponse{}, err
	}
	if r.X25519Pub, err = unb64(w.X25519Pub); err != nil {
		return AuthResponse{}, err
	}
	return r, nil
}

// ContentAnnouncement / ContentRequest / ContentData back publish_content
// (§4.9). They are simple enough that JSON-over-tag is sufficient; no
// binary framing requirement is stated for them, unlike the DHT RPCs.
type ContentAnnouncement struct {
	ContentID string    `json:"contentId"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

type ContentRequest struct {
	ContentID string `json:"contentId"`
}

type ContentData struct {
	ContentID string `json:"contentId"`
	Data      []byte `json:"data"`
}

// RoutingTableSnapshot is the ROUTING_TABLE-kind envelope payload (§4.8):
// a snapshot of the sender's peer table plus the current timestamp.
type RoutingTableSnapshot struct {
	Peers     []GossipPeer `json:"peers"`
	Timestamp time.Time    `json:"timestamp"`
}

// GossipPeer is one entry in a RoutingTableSnapshot.
type GossipPeer struct {
	DeviceID  string `json:"deviceId"`
	IP        string `json:"ip"`
	Port      uint16 `json:"port"`
	PublicKey []byte `json:"publicKey,omitempty"`
	LastSeen  int64  `json:"lastSeen"` // unix millis
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// b64/unb64 piggyback on encoding/json's native []byte<->base64 handling
// rather than importing encoding/base64 directly.
func b64(b []byte) string {
	quoted := mustMarshal(b)
	return string(quoted[1 : len(quoted)-1])
}

func unb64(s string) ([]byte, error) {
	var out []byte
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return nil, err
	}
	return out, nil
}
