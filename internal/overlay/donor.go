package overlay

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"overlay-core/internal/dht"
	"overlay-core/internal/proto"
)

// AddDonor bootstraps this node's DHT routing table against a known peer
// address, per spec §4.6's join procedure: PING the donor, look up this
// node's own id, then announce to the resulting k-closest nodes.
func (n *Node) AddDonor(addr string) error {
	return n.dhtEngine.Join(normalizeAddr(n.cfg, addr), dht.DefaultLookupConfig())
}

// FindNode runs an iterative Kademlia lookup for targetDeviceID and
// returns the closest SignedPeerInfo entries the network reports knowing
// about, per spec §4.6.
func (n *Node) FindNode(targetDeviceID string) ([]proto.SignedPeerInfo, error) {
	target := dht.NodeIDFromDeviceID(targetDeviceID)
	return n.dhtEngine.IterativeFindNode(target, dht.DefaultLookupConfig())
}

// PublishContent stores data under contentID locally and announces its
// availability to every authenticated peer, mirroring the teacher's
// broadcastPoints fan-out in internal/park-node/app.go re-expressed over
// tagged DATA envelopes instead of a dedicated broadcast RPC.
func (n *Node) PublishContent(contentID string, data []byte) error {
	n.contentMu.Lock()
	n.contentStore[contentID] = data
	n.contentMu.Unlock()

	ann := proto.ContentAnnouncement{ContentID: contentID, Size: len(data), Timestamp: time.Now()}
	body, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("overlay: marshal content announcement: %w", err)
	}

	for _, p := range n.peers.AuthenticatedPeers() {
		if p.DeviceID == n.cfg.Username {
			continue
		}
		addr := net.JoinHostPort(p.IP, fmt.Sprintf("%d", p.Port))
		if err := n.sendTagged(addr, proto.TagContentAnnouncement, body); err != nil {
			n.logger.Printf("overlay: content announcement to %s failed: %v", p.DeviceID, err)
		}
	}
	return nil
}

// RequestContent asks fromDeviceID for contentID. The response arrives
// asynchronously as a TagContentData message and is stored locally; it is
// not returned synchronously from this call.
func (n *Node) RequestContent(fromDeviceID, contentID string) error {
	peer, ok := n.peers.Get(fromDeviceID)
	if !ok {
		return fmt.Errorf("overlay: request content from unknown peer %s", fromDeviceID)
	}
	body, err := json.Marshal(proto.ContentRequest{ContentID: contentID})
	if err != nil {
		return fmt.Errorf("overlay: marshal content request: %w", err)
	}
	addr := net.JoinHostPort(peer.IP, fmt.Sprintf("%d", peer.Port))
	return n.sendTagged(addr, proto.TagContentRequest, body)
}

// Content returns previously published or fetched content by id.
func (n *Node) Content(contentID string) ([]byte, bool) {
	n.contentMu.RLock()
	defer n.contentMu.RUnlock()
	data, ok := n.contentStore[contentID]
	return data, ok
}

func (n *Node) handleContentAnnouncement(fromDeviceID string, body []byte) error {
	var ann proto.ContentAnnouncement
	if err := json.Unmarshal(body, &ann); err != nil {
		return fmt.Errorf("overlay: unmarshal content announcement: %w", err)
	}
	n.logger.Printf("overlay: %s announced content %s (%d bytes)", fromDeviceID, ann.ContentID, ann.Size)
	return nil
}

func (n *Node) handleContentRequest(addr, fromDeviceID string, body []byte) error {
	var req proto.ContentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("overlay: unmarshal content request: %w", err)
	}
	data, ok := n.Content(req.ContentID)
	if !ok {
		return fmt.Errorf("overlay: content %s not found for request from %s", req.ContentID, fromDeviceID)
	}
	reply, err := json.Marshal(proto.ContentData{ContentID: req.ContentID, Data: data})
	if err != nil {
		return fmt.Errorf("overlay: marshal content data: %w", err)
	}
	return n.sendTagged(addr, proto.TagContentData, reply)
}

func (n *Node) handleContentData(body []byte) error {
	var cd proto.ContentData
	if err := json.Unmarshal(body, &cd); err != nil {
		return fmt.Errorf("overlay: unmarshal content data: %w", err)
	}
	n.contentMu.Lock()
	n.contentStore[cd.ContentID] = cd.Data
	n.contentMu.Unlock()
	return nil
}
