package api

import (
	"testing"
	"time"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/events"
)

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("ip1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("ip1") {
		t.Error("request over the limit should be blocked")
	}
	// Another key has its own window.
	if !rl.Allow("ip2") {
		t.Error("separate key should be allowed")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow("ip") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("ip") {
		t.Fatal("second request inside the window should be blocked")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("ip") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestHubRoutesUserEventsToOwner(t *testing.T) {
	hub := NewWSHub(nil)
	go hub.Run()
	defer hub.Close()

	alice := &WSClient{send: make(chan []byte, 8), hub: hub, userID: 1}
	bob := &WSClient{send: make(chan []byte, 8), hub: hub, userID: 2}
	hub.register <- alice
	hub.register <- bob

	hub.BroadcastEvent(events.Event{Type: events.EventAlertCreated, UserID: 1})

	select {
	case <-alice.send:
	case <-time.After(time.Second):
		t.Fatal("owner never received their event")
	}
	select {
	case <-bob.send:
		t.Error("event for user 1 leaked to user 2")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcastsGlobalEvents(t *testing.T) {
	hub := NewWSHub(nil)
	go hub.Run()
	defer hub.Close()

	alice := &WSClient{send: make(chan []byte, 8), hub: hub, userID: 1}
	bob := &WSClient{send: make(chan []byte, 8), hub: hub, userID: 2}
	hub.register <- alice
	hub.register <- bob

	// UserID zero means system-wide.
	hub.BroadcastEvent(events.Event{Type: events.EventTickCompleted})

	for _, c := range []*WSClient{alice, bob} {
		select {
		case <-c.send:
		case <-time.After(time.Second):
			t.Fatal("client missed a global event")
		}
	}
}
