// Package reliability implements the ACK/NACK retransmission layer
// described in spec §4.4: bounded retransmission of DATA envelopes that
// request delivery confirmation, and duplicate suppression for inbound
// traffic. It has no teacher precedent as a state machine — the retry
// schedule is built directly from the spec — but reuses the teacher's
// seen-cache dedupe pattern.
package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"overlay-core/internal/errs"
	"overlay-core/internal/proto"
	"overlay-core/internal/telemetry"
)

const (
	tickInterval      = 500 * time.Millisecond
	retransmitSpacing = 2 * time.Second
	maxRetries        = 3
	dedupeTTL         = 2 * time.Minute
)

// SendFunc transmits an already-encoded envelope to a recipient over the
// transport. It is supplied by the caller (overlay.Node) so this package
// stays transport-agnostic.
type SendFunc func(recipient string, env proto.Envelope) error

// pendingKey identifies one in-flight reliable send.
type pendingKey struct {
	recipient string
	sequence  uint32
}

func (k pendingKey) String() string {
	return fmt.Sprintf("%s#%d", k.recipient, k.sequence)
}

// pendingMessage is spec §4.4's PendingMessage state: PENDING(retry=0..3)
// transitioning to DONE(success) on ACK or DONE(failure) on NACK or
// exhausted retries.
type pendingMessage struct {
	envelope proto.Envelope
	key      pendingKey
	retries  int
	lastSent time.Time
	result   chan error
	done     bool
}

// Manager tracks every in-flight reliable send and retransmits on a
// 500ms tick, spacing retransmissions 2s apart and giving up after 3
// retries (4 copies on the wire total, per spec §4.4).
type Manager struct {
	send   SendFunc
	logger telemetry.Logger

	mu      sync.Mutex
	pending map[pendingKey]*pendingMessage

	inboundSeen *seenCache
}

// NewManager builds a reliability Manager. send is used both for the
// initial transmission (via SendReliable) and every retransmission.
func NewManager(send SendFunc, logger telemetry.Logger) *Manager {
	if logger == nil {
		logger = telemetry.Discard{}
	}
	return &Manager{
		send:        send,
		logger:      logger,
		pending:     make(map[pendingKey]*pendingMessage),
		inboundSeen: newSeenCache(dedupeTTL),
	}
}

// SendReliable transmits env to recipient immediately and tracks it for
// retransmission until an ACK/NACK arrives or retries are exhausted. The
// returned channel receives exactly one value: nil on ACK, or an error
// otherwise (ErrMaxRetries once retries are exhausted, the NACK reason, the
// initial send error, or ErrTransportClosed when Run is canceled).
func (m *Manager) SendReliable(recipient string, env proto.Envelope) <-chan error {
	key := pendingKey{recipient: recipient, sequence: env.SequenceNumber}
	result := make(chan error, 1)

	pm := &pendingMessage{
		envelope: env,
		key:      key,
		lastSent: time.Now(),
		result:   result,
	}

	m.mu.Lock()
	m.pending[key] = pm
	m.mu.Unlock()

	if err := m.send(recipient, env); err != nil {
		m.finish(pm, fmt.Errorf("reliability: initial send: %w", err))
	}
	return result
}

// HandleAck completes the pending send matching (from, sequence) with
// success. It is a no-op if there is no matching pending send (already
// completed, or never requested an ACK).
func (m *Manager) HandleAck(from string, sequence uint32) {
	key := pendingKey{recipient: from, sequence: sequence}
	m.mu.Lock()
	pm := m.pending[key]
	m.mu.Unlock()
	if pm == nil {
		return
	}
	m.finish(pm, nil)
}

// HandleNack completes the pending send matching (from, sequence) with
// failure immediately, without waiting for retries to exhaust.
func (m *Manager) HandleNack(from string, sequence uint32, reason string) {
	key := pendingKey{recipient: from, sequence: sequence}
	m.mu.Lock()
	pm := m.pending[key]
	m.mu.Unlock()
	if pm == nil {
		return
	}
	m.finish(pm, fmt.Errorf("reliability: nack: %s", reason))
}

func (m *Manager) finish(pm *pendingMessage, err error) {
	m.mu.Lock()
	if pm.done {
		m.mu.Unlock()
		return
	}
	pm.done = true
	delete(m.pending, pm.key)
	m.mu.Unlock()

	pm.result <- err
	close(pm.result)
}

// IsDuplicate reports whether (sender, sequence) has already been
// observed recently, and records it if not.
func (m *Manager) IsDuplicate(sender string, sequence uint32) bool {
	return m.inboundSeen.Seen(fmt.Sprintf("%s#%d", sender, sequence))
}

// Run drives the 500ms retransmission tick until ctx is canceled. On
// cancellation every still-pending send completes with ErrTransportClosed.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			remaining := make([]*pendingMessage, 0, len(m.pending))
			for _, pm := range m.pending {
				remaining = append(remaining, pm)
			}
			m.mu.Unlock()
			for _, pm := range remaining {
				m.finish(pm, errs.ErrTransportClosed)
			}
			return
		case <-t.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	now := time.Now()

	m.mu.Lock()
	due := make([]*pendingMessage, 0)
	for _, pm := range m.pending {
		if now.Sub(pm.lastSent) >= retransmitSpacing {
			due = append(due, pm)
		}
	}
	m.mu.Unlock()

	for _, pm := range due {
		m.mu.Lock()
		if pm.done {
			m.mu.Unlock()
			continue
		}
		if pm.retries >= maxRetries {
			m.mu.Unlock()
			m.finish(pm, errs.ErrMaxRetries)
			continue
		}
		pm.retries++
		pm.lastSent = now
		env := pm.envelope
		recipient := pm.key.recipient
		m.mu.Unlock()

		if err := m.send(recipient, env); err != nil {
			m.logger.Printf("reliability: retransmit to %s failed: %v", recipient, err)
		}
	}
}

// Pending returns the number of in-flight reliable sends, for tests and
// diagnostics.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
