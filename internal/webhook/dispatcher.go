// Package webhook fans risk alerts out to per-entity subscriber URLs.
//
// Delivery is fully decoupled from the consumer: SendAlert only enqueues
// onto a bounded queue served by a fixed worker pool, so a slow or dead
// subscriber can never throttle event processing. Failed deliveries are
// retried with a linear backoff and dropped after the retry budget.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/riskwatch/internal/circuitbreaker"
	"github.com/mbd888/riskwatch/internal/event"
)

var (
	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook delivery outcomes by result.",
	}, []string{"result"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "webhook",
		Name:      "queue_depth",
		Help:      "Deliveries waiting in the dispatch queue.",
	})
)

func init() {
	prometheus.MustRegister(deliveriesTotal, queueDepth)
}

// Config controls dispatch behavior.
type Config struct {
	Enabled    bool
	MaxRetries int           // retries after the first attempt
	RetryDelay time.Duration // linear multiplier: delay * attempt
	Timeout    time.Duration // connect + read timeout per attempt
	PoolSize   int
	QueueSize  int
	// BreakerThreshold trips the per-URL circuit after this many
	// consecutive failures; 0 disables the breaker.
	BreakerThreshold int
	BreakerOpenFor   time.Duration
}

// DefaultConfig returns the stock dispatch settings. Webhooks are off
// until explicitly enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		MaxRetries:       3,
		RetryDelay:       time.Second,
		Timeout:          5 * time.Second,
		PoolSize:         10,
		QueueSize:        256,
		BreakerThreshold: 8,
		BreakerOpenFor:   time.Minute,
	}
}

type delivery struct {
	alertID string
	url     string
	payload []byte
}

// Dispatcher owns the subscriber registry and the delivery worker pool.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	breaker *circuitbreaker.Breaker // nil when disabled
	logger  *slog.Logger

	mu      sync.RWMutex
	subs    map[string][]string // entityID → URLs
	stopped bool

	queue  chan delivery
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a dispatcher. Call Start before sending alerts.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		subs:   make(map[string][]string),
		queue:  make(chan delivery, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.BreakerThreshold > 0 {
		d.breaker = circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenFor)
	}
	return d
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.PoolSize; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop closes the queue and waits for in-flight deliveries. Retries
// still pending when grace elapses are cancelled.
func (d *Dispatcher) Stop(grace time.Duration) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		d.logger.Warn("webhook drain grace expired, cancelling pending retries")
		d.cancel()
		<-done
	}
	d.cancel()
}

// Register adds url as a subscriber for entityID. Duplicate
// registrations are no-ops.
func (d *Dispatcher) Register(entityID, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook url %q", rawURL)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.subs[entityID] {
		if existing == rawURL {
			return nil
		}
	}
	d.subs[entityID] = append(d.subs[entityID], rawURL)
	return nil
}

// Unregister removes url from entityID's subscribers, deleting the
// entity's entry when its list empties. Returns false when the pair was
// not registered.
func (d *Dispatcher) Unregister(entityID, rawURL string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	urls := d.subs[entityID]
	for i, existing := range urls {
		if existing == rawURL {
			urls = append(urls[:i], urls[i+1:]...)
			if len(urls) == 0 {
				delete(d.subs, entityID)
			} else {
				d.subs[entityID] = urls
			}
			return true
		}
	}
	return false
}

// Webhooks returns a copy of entityID's subscriber URLs.
func (d *Dispatcher) Webhooks(entityID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	urls := d.subs[entityID]
	result := make([]string, len(urls))
	copy(result, urls)
	return result
}

// SendAlert enqueues one delivery per subscriber of alert's entity and
// returns the number enqueued. Zero when disabled, stopped, or nobody is
// subscribed. Never blocks: deliveries that do not fit in the queue are
// dropped with an error log.
func (d *Dispatcher) SendAlert(alert *event.RiskAlert) int {
	if !d.cfg.Enabled || alert == nil {
		return 0
	}

	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		return 0
	}
	urls := make([]string, len(d.subs[alert.EntityID]))
	copy(urls, d.subs[alert.EntityID])
	d.mu.RUnlock()

	if len(urls) == 0 {
		return 0
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		d.logger.Error("alert marshal failed", "alert_id", alert.AlertID, "error", err)
		return 0
	}

	enqueued := 0
	for _, u := range urls {
		select {
		case d.queue <- delivery{alertID: alert.AlertID, url: u, payload: payload}:
			enqueued++
			queueDepth.Inc()
		default:
			deliveriesTotal.WithLabelValues("queue_full").Inc()
			d.logger.Error("webhook queue full, dropping delivery",
				"alert_id", alert.AlertID, "url", u)
		}
	}
	return enqueued
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for del := range d.queue {
		queueDepth.Dec()
		d.deliver(del)
	}
}

// deliver attempts one delivery with up to MaxRetries retries. Backoff
// is linear: RetryDelay * attempt between attempt n and n+1.
func (d *Dispatcher) deliver(del delivery) {
	maxAttempts := d.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if d.breaker != nil && !d.breaker.Allow(del.url) {
			deliveriesTotal.WithLabelValues("breaker_open").Inc()
			d.logger.Warn("webhook circuit open, dropping delivery",
				"alert_id", del.alertID, "url", del.url)
			return
		}

		err := d.post(del)
		if err == nil {
			if d.breaker != nil {
				d.breaker.RecordSuccess(del.url)
			}
			deliveriesTotal.WithLabelValues("success").Inc()
			return
		}
		if d.breaker != nil {
			d.breaker.RecordFailure(del.url)
		}
		d.logger.Warn("webhook delivery failed",
			"alert_id", del.alertID, "url", del.url,
			"attempt", attempt, "error", err)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-d.ctx.Done():
			deliveriesTotal.WithLabelValues("cancelled").Inc()
			return
		case <-time.After(d.cfg.RetryDelay * time.Duration(attempt)):
		}
	}

	deliveriesTotal.WithLabelValues("dropped").Inc()
	d.logger.Error("webhook delivery exhausted retries, dropping",
		"alert_id", del.alertID, "url", del.url, "attempts", maxAttempts)
}

func (d *Dispatcher) post(del delivery) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.url, bytes.NewReader(del.payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Riskwatch-Alert", del.alertID)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
