package publisher

import (
	"sync"
	"testing"

	"github.com/mbd888/riskwatch/internal/event"
)

func TestMemoryPublishOrder(t *testing.T) {
	m := NewMemory()
	m.Publish(&event.RiskAlert{AlertID: "a1"})
	m.Publish(&event.RiskAlert{AlertID: "a2"})

	got := m.Published()
	if len(got) != 2 || got[0].AlertID != "a1" || got[1].AlertID != "a2" {
		t.Errorf("Published() = %v", got)
	}
}

func TestMemoryPublishedReturnsCopy(t *testing.T) {
	m := NewMemory()
	m.Publish(&event.RiskAlert{AlertID: "a1"})

	got := m.Published()
	got[0] = &event.RiskAlert{AlertID: "mutated"}
	if m.Published()[0].AlertID != "a1" {
		t.Error("caller mutation leaked into the publisher")
	}
}

func TestMemoryConcurrentPublish(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Publish(&event.RiskAlert{AlertID: "a"})
		}()
	}
	wg.Wait()

	if len(m.Published()) != 20 {
		t.Errorf("published = %d, want 20", len(m.Published()))
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestAlertKeyFallback(t *testing.T) {
	a := &event.RiskAlert{AlertID: "id-only"}
	if a.Key() != "id-only" {
		t.Errorf("Key() = %q, want alert id when entity is empty", a.Key())
	}
}
