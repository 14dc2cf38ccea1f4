package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestLimiter(cfg Config) *Limiter {
	// Build without the cleanup goroutine so tests control time fully.
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*bucket),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
}

func TestBurstThenDeny(t *testing.T) {
	l := newTestLimiter(Config{RequestsPerMinute: 60, Burst: 3, CleanupInterval: time.Minute})

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request beyond burst should be denied")
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l := newTestLimiter(Config{RequestsPerMinute: 60, Burst: 1, CleanupInterval: time.Minute})

	if !l.Allow("10.0.0.1") {
		t.Fatal("first client should be allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("second client has its own bucket")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	current := time.Now()
	l := newTestLimiter(Config{RequestsPerMinute: 60, Burst: 1, CleanupInterval: time.Minute})
	l.now = func() time.Time { return current }

	if !l.Allow("10.0.0.1") {
		t.Fatal("first request should pass")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("bucket should be drained")
	}

	// 60 rpm refills one token per second.
	current = current.Add(1100 * time.Millisecond)
	if !l.Allow("10.0.0.1") {
		t.Error("token should have refilled after a second")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)

	l := newTestLimiter(Config{RequestsPerMinute: 60, Burst: 1, CleanupInterval: time.Minute})
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/alerts", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", code)
	}
}

func TestDefaultConfigFloors(t *testing.T) {
	cfg := DefaultConfig(0)
	if cfg.RequestsPerMinute != 120 {
		t.Errorf("expected default rpm 120, got %d", cfg.RequestsPerMinute)
	}
	if cfg.Burst < 5 {
		t.Errorf("expected burst floor of 5, got %d", cfg.Burst)
	}
}
