package alerts

import (
	"fmt"
	"testing"

	"github.com/mbd888/riskwatch/internal/event"
)

func alert(id string) *event.RiskAlert {
	return &event.RiskAlert{AlertID: id, EntityID: "m-1", Level: event.LevelMedium}
}

func TestRecentNewestFirst(t *testing.T) {
	s := NewRecentStore(10)
	s.Add(alert("a1"))
	s.Add(alert("a2"))
	s.Add(alert("a3"))

	got := s.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"a3", "a2", "a1"} {
		if got[i].AlertID != want {
			t.Errorf("Recent[%d] = %s, want %s", i, got[i].AlertID, want)
		}
	}
}

func TestRecentEvictsOldest(t *testing.T) {
	s := NewRecentStore(3)
	for i := 1; i <= 5; i++ {
		s.Add(alert(fmt.Sprintf("a%d", i)))
	}

	got := s.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want capacity 3", len(got))
	}
	if got[0].AlertID != "a5" || got[2].AlertID != "a3" {
		t.Errorf("unexpected retention: %s..%s", got[0].AlertID, got[2].AlertID)
	}
}

func TestRecentLimit(t *testing.T) {
	s := NewRecentStore(10)
	for i := 1; i <= 5; i++ {
		s.Add(alert(fmt.Sprintf("a%d", i)))
	}

	if got := s.Recent(2); len(got) != 2 || got[0].AlertID != "a5" {
		t.Errorf("Recent(2) = %v", got)
	}
	if got := s.Recent(100); len(got) != 5 {
		t.Errorf("limit above size should return all, got %d", len(got))
	}
}

func TestRecentNilIgnored(t *testing.T) {
	s := NewRecentStore(10)
	s.Add(nil)
	if s.Len() != 0 {
		t.Error("nil alert should not be cached")
	}
}

func TestRecentReturnsCopy(t *testing.T) {
	s := NewRecentStore(10)
	s.Add(alert("a1"))

	got := s.Recent(0)
	got[0] = alert("mutated")
	if s.Recent(0)[0].AlertID != "a1" {
		t.Error("caller mutation leaked into the cache")
	}
}
