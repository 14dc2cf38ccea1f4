package circuitbreaker

import (
	"testing"
	"time"
)

func TestOpensAtThreshold(t *testing.T) {
	b := New(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure("url-a")
		if !b.Allow("url-a") {
			t.Fatalf("circuit open after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure("url-a")

	if b.CurrentState("url-a") != StateOpen {
		t.Errorf("state = %s, want open", b.CurrentState("url-a"))
	}
	if b.Allow("url-a") {
		t.Error("open circuit must reject deliveries")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(1, time.Minute)
	b.RecordFailure("url-a")

	if b.Allow("url-a") {
		t.Error("tripped key should reject")
	}
	if !b.Allow("url-b") {
		t.Error("other keys stay closed")
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	b := New(3, time.Minute)
	b.RecordFailure("url-a")
	b.RecordFailure("url-a")
	b.RecordSuccess("url-a")
	b.RecordFailure("url-a")
	b.RecordFailure("url-a")

	if b.CurrentState("url-a") != StateClosed {
		t.Error("success should reset the consecutive failure count")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("url-a")
	if b.Allow("url-a") {
		t.Fatal("circuit should be open")
	}

	time.Sleep(15 * time.Millisecond)

	if !b.Allow("url-a") {
		t.Fatal("elapsed open duration should admit a probe")
	}
	if b.CurrentState("url-a") != StateHalfOpen {
		t.Errorf("state = %s, want half_open", b.CurrentState("url-a"))
	}
	if b.Allow("url-a") {
		t.Error("only one probe is admitted while half-open")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("url-a")
	time.Sleep(15 * time.Millisecond)
	if !b.Allow("url-a") {
		t.Fatal("expected probe admission")
	}
	b.RecordSuccess("url-a")

	if b.CurrentState("url-a") != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", b.CurrentState("url-a"))
	}
	if !b.Allow("url-a") {
		t.Error("closed circuit should allow deliveries")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("url-a")
	time.Sleep(15 * time.Millisecond)
	if !b.Allow("url-a") {
		t.Fatal("expected probe admission")
	}
	b.RecordFailure("url-a")

	if b.CurrentState("url-a") != StateOpen {
		t.Errorf("state = %s, want open after failed probe", b.CurrentState("url-a"))
	}
}

func TestDefaults(t *testing.T) {
	b := New(0, 0)
	if b.threshold != 8 {
		t.Errorf("threshold = %d, want default 8", b.threshold)
	}
	if b.openDuration != time.Minute {
		t.Errorf("openDuration = %v, want default 1m", b.openDuration)
	}
}
