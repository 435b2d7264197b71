package reliability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"overlay-core/internal/errs"
	"overlay-core/internal/proto"
)

func TestSendReliableCompletesOnAck(t *testing.T) {
	var sent atomic.Int32
	m := NewManager(func(recipient string, env proto.Envelope) error {
		sent.Add(1)
		return nil
	}, nil)

	env := proto.Envelope{SequenceNumber: 1}
	result := m.SendReliable("peer-a", env)

	m.HandleAck("peer-a", 1)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected nil error on ack, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for result")
	}
	if m.Pending() != 0 {
		t.Fatalf("pending count should be 0 after completion, got %d", m.Pending())
	}
}

func TestSendReliableCompletesOnNack(t *testing.T) {
	m := NewManager(func(recipient string, env proto.Envelope) error { return nil }, nil)

	env := proto.Envelope{SequenceNumber: 2}
	result := m.SendReliable("peer-b", env)
	m.HandleNack("peer-b", 2, "busy")

	select {
	case err := <-result:
		if err == nil {
			t.Fatalf("expected non-nil error on nack")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for result")
	}
}

func TestRetransmitExactlyMaxRetriesThenFails(t *testing.T) {
	var sendCount atomic.Int32
	m := NewManager(func(recipient string, env proto.Envelope) error {
		sendCount.Add(1)
		return nil
	}, nil)

	// Force the retransmit clock: shrink spacing via direct pending
	// manipulation is not exposed, so drive tick() synchronously instead
	// by manually aging lastSent through repeated ticks with a fake now.
	env := proto.Envelope{SequenceNumber: 3}
	result := m.SendReliable("peer-c", env)

	m.mu.Lock()
	for _, pm := range m.pending {
		pm.lastSent = time.Now().Add(-retransmitSpacing - time.Millisecond)
	}
	m.mu.Unlock()

	for i := 0; i < maxRetries; i++ {
		m.tick()
		m.mu.Lock()
		for _, pm := range m.pending {
			pm.lastSent = time.Now().Add(-retransmitSpacing - time.Millisecond)
		}
		m.mu.Unlock()
	}
	m.tick()

	select {
	case err := <-result:
		if !errors.Is(err, errs.ErrMaxRetries) {
			t.Fatalf("expected ErrMaxRetries, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for max-retries failure")
	}

	// initial send + maxRetries retransmissions = maxRetries+1 wire copies.
	if got := sendCount.Load(); got != int32(maxRetries+1) {
		t.Fatalf("expected %d total sends, got %d", maxRetries+1, got)
	}
}

func TestIsDuplicateSuppressesRepeats(t *testing.T) {
	m := NewManager(func(string, proto.Envelope) error { return nil }, nil)
	if m.IsDuplicate("peer-a", 10) {
		t.Fatalf("first observation should not be a duplicate")
	}
	if !m.IsDuplicate("peer-a", 10) {
		t.Fatalf("second observation of the same key should be a duplicate")
	}
	if m.IsDuplicate("peer-a", 11) {
		t.Fatalf("different sequence number should not be a duplicate")
	}
}

func TestReliabilityRaceHarness(t *testing.T) {
	m := NewManager(func(string, proto.Envelope) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(seq uint32) {
			defer wg.Done()
			env := proto.Envelope{SequenceNumber: seq}
			result := m.SendReliable("peer-race", env)
			m.HandleAck("peer-race", seq)
			<-result
		}(uint32(i))
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(seq uint32) {
			defer wg.Done()
			m.IsDuplicate("peer-dup", seq%5)
		}(uint32(i))
	}
	wg.Wait()
}
