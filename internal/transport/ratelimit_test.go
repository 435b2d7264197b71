package transport

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(10, 10*time.Second)
	for i := 0; i < 10; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d unexpectedly denied within burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatalf("11th request within window should have been denied")
	}
}

func TestRateLimiterPerSourceIndependence(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	if !rl.Allow("10.0.0.1") {
		t.Fatalf("first packet from 10.0.0.1 should be allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatalf("first packet from a different source should be allowed independently")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatalf("second packet from 10.0.0.1 within the window should be denied")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	if !rl.Allow("10.0.0.1") {
		t.Fatalf("first packet should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatalf("immediate second packet should be denied")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("10.0.0.1") {
		t.Fatalf("packet after refill window should be allowed")
	}
}

func TestRateLimiterRaceHarness(t *testing.T) {
	rl := NewRateLimiter(10, 10*time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ip := "10.0.0." + string(rune('0'+n%10))
			for j := 0; j < 50; j++ {
				rl.Allow(ip)
			}
		}(i)
	}
	wg.Wait()
	rl.Sweep(time.Millisecond)
}
