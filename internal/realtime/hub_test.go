package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mbd888/riskwatch/internal/event"
)

func newRunningHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return h, cancel
}

func registerClient(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, 8), sub: sub}
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept registration")
	}
	return c
}

func receive(t *testing.T, c *Client) *event.RiskAlert {
	t.Helper()
	select {
	case payload := <-c.send:
		var alert event.RiskAlert
		if err := json.Unmarshal(payload, &alert); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		return &alert
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
		return nil
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	h, cancel := newRunningHub(t)
	defer cancel()
	c := registerClient(t, h, Subscription{})

	h.BroadcastAlert(&event.RiskAlert{AlertID: "a1", EntityID: "m-1", Level: event.LevelHigh})

	if got := receive(t, c); got.AlertID != "a1" {
		t.Errorf("received %s", got.AlertID)
	}
}

func TestSubscriptionEntityFilter(t *testing.T) {
	h, cancel := newRunningHub(t)
	defer cancel()
	c := registerClient(t, h, Subscription{EntityIDs: []string{"m-2"}})

	h.BroadcastAlert(&event.RiskAlert{AlertID: "skip", EntityID: "m-1", Level: event.LevelHigh})
	h.BroadcastAlert(&event.RiskAlert{AlertID: "keep", EntityID: "m-2", Level: event.LevelHigh})

	if got := receive(t, c); got.AlertID != "keep" {
		t.Errorf("entity filter leaked alert %s", got.AlertID)
	}
}

func TestSubscriptionLevelFilter(t *testing.T) {
	h, cancel := newRunningHub(t)
	defer cancel()
	c := registerClient(t, h, Subscription{MinLevel: event.LevelHigh})

	h.BroadcastAlert(&event.RiskAlert{AlertID: "medium", EntityID: "m-1", Level: event.LevelMedium})
	h.BroadcastAlert(&event.RiskAlert{AlertID: "critical", EntityID: "m-1", Level: event.LevelCritical})

	if got := receive(t, c); got.AlertID != "critical" {
		t.Errorf("level filter leaked alert %s", got.AlertID)
	}
}

func TestSubscriptionScoreFilter(t *testing.T) {
	c := &Client{sub: Subscription{MinScore: 0.7}}

	if c.wants(&event.RiskAlert{RiskScore: 0.6}) {
		t.Error("score below minimum should be filtered")
	}
	if !c.wants(&event.RiskAlert{RiskScore: 0.7}) {
		t.Error("score at minimum should pass")
	}
}

func TestDefaultSubscriptionWantsEverything(t *testing.T) {
	c := &Client{}
	if !c.wants(&event.RiskAlert{AlertID: "a", EntityID: "any", Level: event.LevelLow}) {
		t.Error("empty subscription should match all alerts")
	}
}

func TestSlowClientEvicted(t *testing.T) {
	h, cancel := newRunningHub(t)
	defer cancel()

	c := &Client{hub: h, send: make(chan []byte)} // unbuffered, nobody reads
	h.register <- c

	h.BroadcastAlert(&event.RiskAlert{AlertID: "a1", EntityID: "m-1"})

	deadline := time.After(2 * time.Second)
	for {
		h.mu.RLock()
		_, present := h.clients[c]
		h.mu.RUnlock()
		if !present {
			return
		}
		select {
		case <-deadline:
			t.Fatal("slow client was not evicted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestShutdownClosesClients(t *testing.T) {
	h, cancel := newRunningHub(t)
	c := registerClient(t, h, Subscription{})

	cancel()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed channel, got a message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client channel not closed on shutdown")
	}
}
