package transport

import (
	"fmt"
	"net"
	"time"

	"overlay-core/internal/errs"

	"github.com/pion/stun"
)

// DefaultSTUNServer mirrors the teacher's NAT module default, used only
// when the caller's configuration leaves StunServer empty.
const DefaultSTUNServer = "stun.l.google.com:19302"

// DiscoverPublicAddress sends an RFC 5389 Binding Request to serverAddr
// over this socket's own bound port (spec §4.2/§6), and returns the
// XOR-MAPPED-ADDRESS the server observed. The request and response
// multiplex with ordinary overlay traffic via Serve's STUN interception,
// the same stun.MustBuild/XORMappedAddress.GetFrom pattern
// ethereum-go-ethereum's NAT module uses against its own dialed
// connection — here sent over the shared socket instead.
func (s *Socket) DiscoverPublicAddress(serverAddr string, timeout time.Duration) (*net.UDPAddr, error) {
	if serverAddr == "" {
		serverAddr = DefaultSTUNServer
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve stun server: %w", err)
	}

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	key := string(req.TransactionID[:])

	ch := make(chan *stun.Message, 1)
	s.stunMu.Lock()
	s.pending[key] = ch
	s.stunMu.Unlock()
	defer func() {
		s.stunMu.Lock()
		delete(s.pending, key)
		s.stunMu.Unlock()
	}()

	if err := s.SendTo(addr, req.Raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStunFailed, err)
	}

	select {
	case resp := <-ch:
		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(resp); err != nil {
			return nil, fmt.Errorf("%w: no mapped address: %v", errs.ErrStunFailed, err)
		}
		return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
	case <-time.After(timeout):
		return nil, errs.ErrStunFailed
	case <-s.closed:
		return nil, errs.ErrTransportClosed
	}
}

// dispatchSTUN decodes an inbound STUN-shaped datagram and delivers it to
// the waiting DiscoverPublicAddress call, if any.
func (s *Socket) dispatchSTUN(data []byte) {
	msg := &stun.Message{Raw: data}
	if err := msg.Decode(); err != nil {
		s.logger.Printf("transport: malformed stun message: %v", err)
		return
	}
	key := string(msg.TransactionID[:])

	s.stunMu.Lock()
	ch := s.pending[key]
	s.stunMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}
