// Package overlay composes C1-C8 into the single public API described by
// spec §4.9 Node Core: one cooperative-concurrency domain per node, owning
// timers, the inbound dispatch loop, and the outbound fan-out. Structure
// follows the teacher's internal/p2p/node.go Node/NodeConfig split and
// internal/park-node/app.go's Start/Run/Stop lifecycle, re-expressed for a
// UDP datagram transport instead of the teacher's TCP netx.Network.
package overlay

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"overlay-core/internal/auth"
	"overlay-core/internal/crypto"
	"overlay-core/internal/dht"
	"overlay-core/internal/gossip"
	"overlay-core/internal/peertable"
	"overlay-core/internal/proto"
	"overlay-core/internal/reliability"
	"overlay-core/internal/telemetry"
	"overlay-core/internal/transport"
)

// Message is one application-level delivery surfaced to the caller, the
// "message-received stream" spec §4.9 describes.
type Message struct {
	FromDeviceID string
	Payload      []byte
}

// PeerEventType classifies a PeerEvent.
type PeerEventType int

const (
	PeerAuthenticated PeerEventType = iota
	PeerEvicted
)

// PeerEvent is emitted on the Events channel whenever a peer's
// authenticated status changes, mirroring the teacher's p2p.Event shape.
type PeerEvent struct {
	Type     PeerEventType
	DeviceID string
}

// Node is one node instance: a single cooperative-concurrency domain per
// spec §5, with no shared mutable state between separate Node values in
// the same process.
type Node struct {
	cfg      Config
	identity *crypto.Identity
	logger   telemetry.Logger

	socket       *transport.Socket
	peers        *peertable.Table
	reliability  *reliability.Manager
	dhtEngine    *dht.Engine
	authMgr      *auth.Manager
	gossipMgr    *gossip.Manager
	publicAddr   *net.UDPAddr
	seq          uint32
	contentMu    sync.RWMutex
	contentStore map[string][]byte

	messages chan Message
	events   chan PeerEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Node but does not start any I/O; call Start to bind
// the socket and begin running timers and the dispatch loop.
func New(cfg Config) (*Node, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("overlay: Username is required")
	}
	cfg = fillConfigDefaults(cfg)

	identity, err := crypto.NewIdentity()
	if err != nil {
		return nil, fmt.Errorf("overlay: generate identity: %w", err)
	}

	var logger telemetry.Logger = telemetry.Discard{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	n := &Node{
		cfg:          cfg,
		identity:     identity,
		logger:       logger,
		peers:        peertable.New(),
		contentStore: make(map[string][]byte),
		messages:     make(chan Message, 128),
		events:       make(chan PeerEvent, 128),
	}
	return n, nil
}

func fillConfigDefaults(cfg Config) Config {
	d := Default()
	if cfg.GossipInterval <= 0 {
		cfg.GossipInterval = d.GossipInterval
	}
	if cfg.GossipPeerCount <= 0 {
		cfg.GossipPeerCount = d.GossipPeerCount
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = d.MessageTimeout
	}
	if cfg.PeerCleanupInterval <= 0 {
		cfg.PeerCleanupInterval = d.PeerCleanupInterval
	}
	if cfg.StunServer == "" {
		cfg.StunServer = d.StunServer
	}
	return cfg
}

// Messages returns the channel of inbound application payloads.
func (n *Node) Messages() <-chan Message { return n.messages }

// Events returns the channel of peer lifecycle events.
func (n *Node) Events() <-chan PeerEvent { return n.events }

// DeviceID returns this node's self-declared device-id.
func (n *Node) DeviceID() string { return n.cfg.Username }

// LocalAddr returns the bound UDP address once Start has succeeded.
func (n *Node) LocalAddr() *net.UDPAddr {
	if n.socket == nil {
		return nil
	}
	return n.socket.LocalAddr()
}

// Start binds the socket, optionally probes STUN to learn this node's
// public endpoint, builds its self-signed peer info, inserts self into the
// peer table as authenticated, and starts every timer (spec §4.9
// "start(config)"). gossip.Manager and PublishContent both filter self out
// of their fan-out targets explicitly, so the table entry shows up in
// Peers and in the gossip snapshots this node sends rather than becoming a
// send destination. Start
// fails atomically: if any step fails, no timer or goroutine is left
// running.
func (n *Node) Start() error {
	var startErr error
	n.startOnce.Do(func() {
		startErr = n.start()
	})
	return startErr
}

func (n *Node) start() error {
	bindAddr := fmt.Sprintf(":%d", n.cfg.UDPPort)
	socket, err := transport.Listen(bindAddr, n.logger)
	if err != nil {
		return fmt.Errorf("overlay: bind socket: %w", err)
	}
	n.socket = socket

	selfIP := "0.0.0.0"
	if n.cfg.StunServer != "disabled" {
		pub, err := socket.DiscoverPublicAddress(n.cfg.StunServer, 5*time.Second)
		if err != nil {
			n.logger.Printf("overlay: stun probe failed, falling back to local interface: %v", err)
		} else {
			n.publicAddr = pub
			selfIP = pub.IP.String()
		}
	}
	selfIP = normalizeIP(n.cfg, selfIP)

	selfInfo := proto.SignPeerInfo(proto.SignedPeerInfo{
		DeviceID:  n.cfg.Username,
		IP:        selfIP,
		Port:      uint16(socket.LocalAddr().Port),
		PublicKey: ed25519.PublicKey(n.identity.Pub),
		Timestamp: time.Now(),
	}, n.identity.Priv)

	n.dhtEngine, err = dht.New(n.cfg.Username, selfInfo, dhtTransport{n}, n.logger)
	if err != nil {
		socket.Close()
		return fmt.Errorf("overlay: init dht engine: %w", err)
	}

	n.peers.Upsert(n.cfg.Username, selfInfo.IP, selfInfo.Port, selfInfo.PublicKey)
	n.peers.MarkAuthenticated(n.cfg.Username, nil)

	n.reliability = reliability.NewManager(n.rawSendEnvelope, n.logger)
	n.authMgr = auth.NewManager(n.cfg.Username, n.identity, n.peers, n.sendTagged, n.onAuthenticated, n.logger)
	n.gossipMgr = gossip.NewManager(n.cfg.Username, n.peers, n.rawSendEnvelope, n.nextSeq, n.logger, gossip.Config{
		Interval:  n.cfg.GossipInterval,
		PeerCount: n.cfg.GossipPeerCount,
	})

	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.socket.Serve(n.handleInbound); err != nil {
			n.logger.Printf("overlay: serve loop stopped: %v", err)
		}
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reliability.Run(n.ctx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.gossipMgr.Run(n.ctx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.cleanupLoop()
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.dhtEngine.RunBucketRefresh(n.ctx.Done(), 30*time.Minute)
	}()

	return nil
}

// Stop cancels every timer, completes all pending messages as failure,
// and closes the socket, per spec §4.9/§5. No partial state is exposed
// after Stop returns.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		if n.socket != nil {
			n.socket.Close()
		}
		n.wg.Wait()
		close(n.messages)
		close(n.events)
	})
}

func (n *Node) nextSeq() uint32 {
	return atomic.AddUint32(&n.seq, 1)
}

func (n *Node) cleanupLoop() {
	ticker := time.NewTicker(n.cfg.PeerCleanupInterval)
	defer ticker.Stop()
	staleAfter := 2 * n.cfg.MessageTimeout
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			// Self never receives inbound traffic from itself to refresh its
			// own last-seen via handleInbound's Upsert, so it's touched here
			// instead — otherwise EvictInactive would age it out.
			n.peers.MarkAuthenticated(n.cfg.Username, nil)
			for _, deviceID := range n.peers.EvictInactive(staleAfter) {
				n.emitEvent(PeerEvent{Type: PeerEvicted, DeviceID: deviceID})
			}
		}
	}
}

func (n *Node) onAuthenticated(deviceID string) {
	n.emitEvent(PeerEvent{Type: PeerAuthenticated, DeviceID: deviceID})
	if p, ok := n.peers.Get(deviceID); ok {
		addr := net.JoinHostPort(p.IP, fmt.Sprintf("%d", p.Port))
		// A freshly authenticated peer is not yet DHT-verified: the auth
		// handshake only signs the challenge, not a full SignedPeerInfo
		// tuple. PING carries that tuple both ways and is already signed
		// by each side's own identity, so folding the reply into the
		// routing table is the correctly-verified path in rather than
		// fabricating a signature this node has no right to make.
		go func() {
			info, err := n.dhtEngine.Ping(addr, 3*time.Second)
			if err != nil {
				n.logger.Printf("overlay: post-auth ping to %s failed: %v", deviceID, err)
				return
			}
			n.dhtEngine.ObservePeer(info)
		}()
	}
	n.gossipMgr.Round()
}

func (n *Node) emitEvent(ev PeerEvent) {
	select {
	case n.events <- ev:
	default:
	}
}
