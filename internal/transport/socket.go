// Package transport implements the UDP socket layer (spec §4.2): a single
// bound socket per node, inbound per-source-IP rate limiting, and
// STUN-based public endpoint discovery multiplexed over that same socket.
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"overlay-core/internal/errs"
	"overlay-core/internal/telemetry"

	"github.com/pion/stun"
)

const maxDatagramSize = 65507

// Handler processes one inbound application datagram. from is the
// verified source address the packet arrived from.
type Handler func(data []byte, from *net.UDPAddr)

// Socket is the single UDP endpoint a node sends and receives through.
// STUN Binding requests/responses multiplex over the same socket as
// ordinary overlay traffic, matching the teacher's netx.Network/Conn
// abstraction re-expressed over net.PacketConn instead of net.Listener.
type Socket struct {
	conn    *net.UDPConn
	limiter *RateLimiter
	logger  telemetry.Logger

	stunMu  sync.Mutex
	pending map[string]chan *stun.Message // keyed by transaction ID

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds a UDP socket at bindAddr ("host:port"; port 0 picks an
// ephemeral port).
func Listen(bindAddr string, logger telemetry.Logger) (*Socket, error) {
	if logger == nil {
		logger = telemetry.Discard{}
	}
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve bind addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}
	return &Socket{
		conn:    conn,
		limiter: NewRateLimiter(10, 10*time.Second),
		logger:  logger,
		pending: make(map[string]chan *stun.Message),
		closed:  make(chan struct{}),
	}, nil
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// SendTo writes payload to addr as a single UDP datagram.
func (s *Socket) SendTo(addr *net.UDPAddr, payload []byte) error {
	if len(payload) > maxDatagramSize {
		return fmt.Errorf("transport: payload exceeds max datagram size")
	}
	_, err := s.conn.WriteToUDP(payload, addr)
	if err != nil {
		select {
		case <-s.closed:
			return errs.ErrTransportClosed
		default:
		}
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	return nil
}

// Close shuts down the underlying socket.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// Serve reads datagrams until the socket is closed, dispatching STUN
// responses to DiscoverPublicAddress callers and everything else
// (rate-limited per source IP) to handler. It blocks and should run in
// its own goroutine.
func (s *Socket) Serve(handler Handler) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return errs.ErrTransportClosed
			default:
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		if stun.IsMessage(data) {
			s.dispatchSTUN(data)
			continue
		}

		if !s.limiter.Allow(from.IP.String()) {
			s.logger.Printf("transport: rate limit dropped packet from %s", from)
			continue
		}
		handler(data, from)
	}
}
