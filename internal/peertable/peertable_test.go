package peertable

import (
	"sync"
	"testing"
	"time"
)

func TestUpsertInsertsUnauthenticated(t *testing.T) {
	tbl := New()
	tbl.Upsert("device-a", "10.0.0.1", 9000, []byte("pub"))

	p, ok := tbl.Get("device-a")
	if !ok {
		t.Fatalf("expected device-a to be present")
	}
	if p.Authenticated {
		t.Fatalf("freshly upserted peer should not be authenticated")
	}
	if p.IP != "10.0.0.1" || p.Port != 9000 {
		t.Fatalf("unexpected endpoint: %+v", p)
	}
}

func TestUpsertRefreshesExistingEndpoint(t *testing.T) {
	tbl := New()
	tbl.Upsert("device-a", "10.0.0.1", 9000, []byte("pub"))
	tbl.Upsert("device-a", "10.0.0.2", 9001, nil)

	p, _ := tbl.Get("device-a")
	if p.IP != "10.0.0.2" || p.Port != 9001 {
		t.Fatalf("endpoint should have migrated, got %+v", p)
	}
	if string(p.PublicKey) != "pub" {
		t.Fatalf("public key should be preserved when not resupplied")
	}
}

func TestMarkAuthenticatedInstallsSessionKey(t *testing.T) {
	tbl := New()
	tbl.Upsert("device-a", "10.0.0.1", 9000, nil)
	tbl.MarkAuthenticated("device-a", []byte("session-key"))

	p, _ := tbl.Get("device-a")
	if !p.Authenticated {
		t.Fatalf("expected peer to be authenticated")
	}
	if string(p.SessionKey) != "session-key" {
		t.Fatalf("session key not installed")
	}
}

func TestEvictInactiveOnlyDropsAuthenticatedStalePeers(t *testing.T) {
	tbl := New()
	tbl.Upsert("stale-unauth", "10.0.0.1", 1, nil)
	tbl.Upsert("stale-auth", "10.0.0.2", 2, nil)
	tbl.MarkAuthenticated("stale-auth", []byte("k"))

	// Backdate both entries' LastSeen well past the threshold.
	past := time.Now().Add(-time.Hour)
	tbl.mu.Lock()
	tbl.peers["stale-unauth"].LastSeen = past
	tbl.peers["stale-auth"].LastSeen = past
	tbl.mu.Unlock()

	evicted := tbl.EvictInactive(time.Minute)
	if len(evicted) != 1 || evicted[0] != "stale-auth" {
		t.Fatalf("expected only stale-auth to be evicted, got %v", evicted)
	}
	if _, ok := tbl.Get("stale-unauth"); !ok {
		t.Fatalf("unauthenticated peer should never be inactivity-evicted")
	}
	if _, ok := tbl.Get("stale-auth"); ok {
		t.Fatalf("authenticated stale peer should have been evicted")
	}
}

func TestAuthenticatedPeersFiltersUnauthenticated(t *testing.T) {
	tbl := New()
	tbl.Upsert("a", "10.0.0.1", 1, nil)
	tbl.Upsert("b", "10.0.0.2", 2, nil)
	tbl.MarkAuthenticated("b", []byte("k"))

	auth := tbl.AuthenticatedPeers()
	if len(auth) != 1 || auth[0].DeviceID != "b" {
		t.Fatalf("expected only b, got %+v", auth)
	}
}

func TestPeerTableRaceHarness(t *testing.T) {
	tbl := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "device-" + string(rune('a'+n%5))
			for j := 0; j < 100; j++ {
				tbl.Upsert(id, "10.0.0.1", uint16(n), nil)
				if j%10 == 0 {
					tbl.MarkAuthenticated(id, []byte("k"))
				}
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tbl.Snapshot()
				tbl.AuthenticatedPeers()
				tbl.Len()
			}
		}()
	}
	wg.Wait()
}
