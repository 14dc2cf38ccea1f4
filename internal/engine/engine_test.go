package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mbd888/riskwatch/internal/event"
	"github.com/mbd888/riskwatch/internal/linkstore"
	"github.com/mbd888/riskwatch/internal/window"
)

func mkEvent(id, merchantRef string, amount float64, ts time.Time, typ event.Type) *event.PaymentEvent {
	return &event.PaymentEvent{
		EventID:     id,
		EventType:   typ,
		Amount:      &amount,
		Timestamp:   &ts,
		MerchantRef: merchantRef,
	}
}

func newEngine(opts ...Option) (*Engine, *linkstore.Store) {
	links := linkstore.New()
	return New(window.New(), links, opts...), links
}

func TestFirstEventProducesNoAlert(t *testing.T) {
	e, _ := newEngine()
	alert := e.Evaluate(context.Background(), mkEvent("e1", "m-1", 50, time.Now(), event.TypeCompleted))
	if alert != nil {
		t.Errorf("single benign event alerted: %+v", alert)
	}
}

func TestFailureBurstWithVelocityAlerts(t *testing.T) {
	e, _ := newEngine()
	now := time.Now()

	var alert *event.RiskAlert
	for i := 0; i < 10; i++ {
		ts := now.Add(time.Duration(i-10) * time.Second)
		alert = e.Evaluate(context.Background(), mkEvent(fmt.Sprintf("e%d", i), "m-burst", 10, ts, event.TypeFailed))
	}

	if alert == nil {
		t.Fatal("expected an alert from 10 failures inside a minute")
	}
	if alert.Level != event.LevelHigh {
		t.Errorf("level = %s, want HIGH for score 0.65", alert.Level)
	}
	if alert.RiskScore != 0.65 {
		t.Errorf("score = %v, want 0.35+0.30", alert.RiskScore)
	}
	hasSignal := func(s event.SignalType) bool {
		for _, got := range alert.SignalTypes {
			if got == s {
				return true
			}
		}
		return false
	}
	if !hasSignal(event.SignalHighFailureRate) || !hasSignal(event.SignalVelocitySpike) {
		t.Errorf("signals = %v", alert.SignalTypes)
	}
	if alert.EntityID != "m-burst" || alert.EntityType != event.EntityTypeMerchant {
		t.Errorf("entity = %s/%s", alert.EntityID, alert.EntityType)
	}
	if alert.AlertID == "" {
		t.Error("alert id must be set")
	}
}

func TestLargeAmountSignal(t *testing.T) {
	e, _ := newEngine(WithThreshold(0.2))
	now := time.Now()

	for i := 0; i < 5; i++ {
		e.Evaluate(context.Background(), mkEvent(fmt.Sprintf("s%d", i), "m-large", 10,
			now.Add(time.Duration(i-6)*time.Minute/2), event.TypeCompleted))
	}
	// 400 stays under the off-hours floor so the test is stable at any
	// wall-clock hour.
	alert := e.Evaluate(context.Background(), mkEvent("big", "m-large", 400, now, event.TypeCompleted))

	if alert == nil {
		t.Fatal("expected LARGE_AMOUNT alert at lowered threshold")
	}
	if len(alert.SignalTypes) != 1 || alert.SignalTypes[0] != event.SignalLargeAmount {
		t.Errorf("signals = %v", alert.SignalTypes)
	}
	if alert.Amount != 400 {
		t.Errorf("alert amount = %v", alert.Amount)
	}
}

func TestLinkageSignalsNeedPriorObservations(t *testing.T) {
	e, links := newEngine(WithThreshold(0.2))
	now := time.Now()

	ev := mkEvent("e1", "m-link", 10, now, event.TypeCompleted)
	ev.Email = "fresh@example.com"
	ev.PAR = "par-fresh"

	if alert := e.Evaluate(context.Background(), ev); alert != nil {
		t.Errorf("first sighting of a pair must not trigger linkage: %+v", alert)
	}
	if n := links.PARCount("fresh@example.com"); n != 1 {
		t.Errorf("pair should be linked after evaluation, count = %d", n)
	}
}

func TestEmailFanoutSignal(t *testing.T) {
	e, links := newEngine(WithThreshold(0.2))
	for i := 0; i < 3; i++ {
		links.Link("shared@example.com", fmt.Sprintf("par-%d", i))
	}

	ev := mkEvent("e1", "m-fan", 10, time.Now(), event.TypeCompleted)
	ev.Email = "shared@example.com"

	alert := e.Evaluate(context.Background(), ev)
	if alert == nil {
		t.Fatal("expected EMAIL_MULTIPLE_PAR alert")
	}
	if len(alert.SignalTypes) != 1 || alert.SignalTypes[0] != event.SignalEmailMultiPAR {
		t.Errorf("signals = %v", alert.SignalTypes)
	}
}

func TestBothFanoutSignalsReachMedium(t *testing.T) {
	e, links := newEngine()
	for i := 0; i < 3; i++ {
		links.Link("shared@example.com", fmt.Sprintf("par-%d", i))
		links.Link(fmt.Sprintf("u%d@example.com", i), "par-shared")
	}

	ev := mkEvent("e1", "m-fan2", 10, time.Now(), event.TypeCompleted)
	ev.Email = "shared@example.com"
	ev.PAR = "par-shared"

	alert := e.Evaluate(context.Background(), ev)
	if alert == nil {
		t.Fatal("expected alert from both linkage signals at default threshold")
	}
	if alert.RiskScore != 0.60 {
		t.Errorf("score = %v, want 0.30+0.30", alert.RiskScore)
	}
	if alert.Level != event.LevelMedium {
		t.Errorf("level = %s, want MEDIUM", alert.Level)
	}
}

func TestRelatedEventIDsCapped(t *testing.T) {
	e, links := newEngine()
	now := time.Now()
	for i := 0; i < 3; i++ {
		links.Link("many@example.com", fmt.Sprintf("par-%d", i))
		links.Link(fmt.Sprintf("u%d@example.com", i), "par-many")
	}

	for i := 0; i < 15; i++ {
		ev := mkEvent(fmt.Sprintf("e%02d", i), "m-rel", 10, now.Add(time.Duration(i-20)*time.Second), event.TypeCompleted)
		e.Evaluate(context.Background(), ev)
	}
	trigger := mkEvent("e99", "m-rel", 10, now, event.TypeCompleted)
	trigger.Email = "many@example.com"
	trigger.PAR = "par-many"
	alert := e.Evaluate(context.Background(), trigger)

	if alert == nil {
		t.Fatal("expected alert")
	}
	if len(alert.RelatedEventIDs) != 10 {
		t.Fatalf("relatedEventIds len = %d, want 10", len(alert.RelatedEventIDs))
	}
	if alert.RelatedEventIDs[9] != "e99" {
		t.Errorf("newest event should be last, got %v", alert.RelatedEventIDs)
	}
	if alert.RelatedEventIDs[0] != "e06" {
		t.Errorf("expected oldest retained id e06, got %v", alert.RelatedEventIDs[0])
	}
}

func TestAlertIDDeterministic(t *testing.T) {
	signals := []event.SignalType{event.SignalVelocitySpike, event.SignalHighFailureRate}
	reversed := []event.SignalType{event.SignalHighFailureRate, event.SignalVelocitySpike}

	a := alertID("e1", signals)
	b := alertID("e1", reversed)
	if a != b {
		t.Error("alert id must not depend on signal order")
	}
	if a == alertID("e2", signals) {
		t.Error("different events must produce different ids")
	}
	if len(a) != 32 {
		t.Errorf("alert id length = %d, want 32 hex chars", len(a))
	}
}

func TestLevelThresholds(t *testing.T) {
	e, _ := newEngine()
	cases := []struct {
		score float64
		want  event.Level
	}{
		{0.49, event.LevelLow},
		{0.50, event.LevelMedium},
		{0.64, event.LevelMedium},
		{0.65, event.LevelHigh},
		{0.84, event.LevelHigh},
		{0.85, event.LevelCritical},
		{1.0, event.LevelCritical},
	}
	for _, tc := range cases {
		if got := e.level(tc.score); got != tc.want {
			t.Errorf("level(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestScoreClampedToOne(t *testing.T) {
	e, links := newEngine()
	now := time.Now()
	for i := 0; i < 3; i++ {
		links.Link("max@example.com", fmt.Sprintf("par-%d", i))
		links.Link(fmt.Sprintf("u%d@example.com", i), "par-max")
	}

	// Ten rapid failures plus both linkage signals push the raw sum
	// well past 1.0.
	var alert *event.RiskAlert
	for i := 0; i < 10; i++ {
		ev := mkEvent(fmt.Sprintf("e%d", i), "m-max", 10, now.Add(time.Duration(i-10)*time.Second), event.TypeFailed)
		ev.Email = "max@example.com"
		ev.PAR = "par-max"
		alert = e.Evaluate(context.Background(), ev)
	}

	if alert == nil {
		t.Fatal("expected alert")
	}
	if alert.RiskScore > 1.0 {
		t.Errorf("score = %v, must be clamped to 1.0", alert.RiskScore)
	}
	if alert.Level != event.LevelCritical {
		t.Errorf("level = %s, want CRITICAL", alert.Level)
	}
}

func TestSummaryFromTopSignal(t *testing.T) {
	e, _ := newEngine()
	now := time.Now()

	var alert *event.RiskAlert
	for i := 0; i < 10; i++ {
		alert = e.Evaluate(context.Background(),
			mkEvent(fmt.Sprintf("e%d", i), "m-sum", 10, now.Add(time.Duration(i-10)*time.Second), event.TypeFailed))
	}
	if alert == nil {
		t.Fatal("expected alert")
	}
	// HIGH_FAILURE_RATE (0.35) outweighs VELOCITY_SPIKE (0.30).
	if alert.Summary == "" || alert.Summary[:4] != "High" {
		t.Errorf("summary = %q, want the failure-rate template", alert.Summary)
	}
}
