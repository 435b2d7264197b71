package proto

import (
	"encoding/binary"
	"fmt"

	"overlay-core/internal/errs"
)

// DHT RPC op codes, per spec §6.
type DHTOp uint8

const (
	OpPing      DHTOp = 0x01
	OpPong      DHTOp = 0x02
	OpFindNode  DHTOp = 0x03
	OpFoundNode DHTOp = 0x04
	OpStore     DHTOp = 0x05
)

// DHTFrame is the decoded form of a DHT RPC, carried as the opaque payload
// of a DATA-kind Envelope. The wire form is
// op(1)|rpcId(u32 BE)|body, with body interpretation depending on op.
type DHTFrame struct {
	Op    DHTOp
	RPCID uint32

	// PING / PONG / STORE carry a single SignedPeerInfo (for PONG, the
	// responder's own info).
	Info SignedPeerInfo

	// FIND_NODE carries only a target NodeID.
	Target [20]byte

	// FOUND_NODE carries zero or more SignedPeerInfo entries.
	Nodes []SignedPeerInfo
}

// EncodeDHTFrame serializes f to the §6 binary wire form.
func EncodeDHTFrame(f DHTFrame) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(f.Op)
	binary.BigEndian.PutUint32(buf[1:], f.RPCID)

	switch f.Op {
	case OpPing, OpPong, OpStore:
		buf = append(buf, EncodeSignedPeerInfo(f.Info)...)
	case OpFindNode:
		buf = append(buf, f.Target[:]...)
	case OpFoundNode:
		if len(f.Nodes) > 255 {
			f.Nodes = f.Nodes[:255]
		}
		buf = append(buf, byte(len(f.Nodes)))
		for _, n := range f.Nodes {
			enc := EncodeSignedPeerInfo(n)
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(enc)))
			buf = append(buf, enc...)
		}
	}
	return buf
}

// DecodeDHTFrame parses the §6 binary wire form.
func DecodeDHTFrame(b []byte) (DHTFrame, error) {
	if len(b) < 5 {
		return DHTFrame{}, fmt.Errorf("%w: dht frame too short", errs.ErrMalformedEnvelope)
	}
	f := DHTFrame{
		Op:    DHTOp(b[0]),
		RPCID: binary.BigEndian.Uint32(b[1:5]),
	}
	body := b[5:]

	switch f.Op {
	case OpPing, OpPong, OpStore:
		info, _, err := DecodeSignedPeerInfo(body)
		if err != nil {
			return DHTFrame{}, err
		}
		f.Info = info
	case OpFindNode:
		if len(body) < 20 {
			return DHTFrame{}, fmt.Errorf("%w: truncated target", errs.ErrMalformedEnvelope)
		}
		copy(f.Target[:], body[:20])
	case OpFoundNode:
		if len(body) < 1 {
			return DHTFrame{}, fmt.Errorf("%w: truncated count", errs.ErrMalformedEnvelope)
		}
		count := int(body[0])
		off := 1
		nodes := make([]SignedPeerInfo, 0, count)
		for i := 0; i < count; i++ {
			if len(body) < off+2 {
				return DHTFrame{}, fmt.Errorf("%w: truncated node length", errs.ErrMalformedEnvelope)
			}
			l := int(binary.BigEndian.Uint16(body[off:]))
			off += 2
			if len(body) < off+l {
				return DHTFrame{}, fmt.Errorf("%w: truncated node", errs.ErrMalformedEnvelope)
			}
			info, _, err := DecodeSignedPeerInfo(body[off : off+l])
			if err != nil {
				return DHTFrame{}, err
			}
			nodes = append(nodes, info)
			off += l
		}
		f.Nodes = nodes
	default:
		return DHTFrame{}, fmt.Errorf("%w: unknown dht op 0x%02x", errs.ErrMalformedEnvelope, byte(f.Op))
	}
	return f, nil
}
