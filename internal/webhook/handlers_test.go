package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newHandlerRouter(t *testing.T) (*gin.Engine, *Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d := New(testConfig(), slog.Default())
	t.Cleanup(func() { d.Stop(time.Second) })

	r := gin.New()
	NewHandler(d).RegisterRoutes(r.Group("/api/v1/risk"))
	return r, d
}

func TestCreateWebhook(t *testing.T) {
	r, d := newHandlerRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/risk/webhooks/m-1",
		strings.NewReader(`{"url":"https://203.0.113.10/hook"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := d.Webhooks("m-1"); len(got) != 1 {
		t.Errorf("webhooks = %v", got)
	}
}

func TestCreateWebhookRejectsMissingURL(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/risk/webhooks/m-1", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateWebhookRejectsUnsafeURL(t *testing.T) {
	r, d := newHandlerRouter(t)

	for _, target := range []string{
		"http://localhost:9000/hook",
		"http://169.254.169.254/latest/meta-data",
		"http://10.0.0.5/internal",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/risk/webhooks/m-1",
			strings.NewReader(`{"url":"`+target+`"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}
	if got := d.Webhooks("m-1"); len(got) != 0 {
		t.Errorf("unsafe urls were registered: %v", got)
	}
}

func TestListWebhooks(t *testing.T) {
	r, d := newHandlerRouter(t)
	_ = d.Register("m-1", "https://203.0.113.10/hook")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/risk/webhooks/m-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		EntityID string   `json:"entityId"`
		Webhooks []string `json:"webhooks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.EntityID != "m-1" || len(resp.Webhooks) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestDeleteWebhook(t *testing.T) {
	r, d := newHandlerRouter(t)
	_ = d.Register("m-1", "https://203.0.113.10/hook")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete,
		"/api/v1/risk/webhooks/m-1?url=https%3A%2F%2F203.0.113.10%2Fhook", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete,
		"/api/v1/risk/webhooks/m-1?url=https%3A%2F%2F203.0.113.10%2Fhook", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("repeat delete: status = %d, want 404", w.Code)
	}
}

func TestDeleteWebhookRequiresURL(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/risk/webhooks/m-1", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
