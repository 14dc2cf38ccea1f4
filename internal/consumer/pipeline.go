// Package consumer subscribes to the payment-events topic and drives the
// risk pipeline: deserialize → evaluate → enrich → cache → publish →
// webhook fan-out.
//
// The pipeline is deliberately separate from the Kafka plumbing so the
// whole event path can be exercised in tests with raw message bytes.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/riskwatch/internal/alerts"
	"github.com/mbd888/riskwatch/internal/engine"
	"github.com/mbd888/riskwatch/internal/event"
	"github.com/mbd888/riskwatch/internal/publisher"
	"github.com/mbd888/riskwatch/internal/retry"
	"github.com/mbd888/riskwatch/internal/traces"
	"github.com/mbd888/riskwatch/internal/webhook"
)

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "consumer",
		Name:      "events_total",
		Help:      "Payment events consumed by outcome.",
	}, []string{"outcome"}) // processed, poison, panic

	alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "consumer",
		Name:      "alerts_total",
		Help:      "Risk alerts emitted by level.",
	}, []string{"level"})

	processingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskwatch",
		Subsystem: "consumer",
		Name:      "processing_duration_seconds",
		Help:      "Per-message pipeline processing time.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(eventsTotal, alertsTotal, processingDuration)
}

// Broadcaster pushes an alert to live operator feeds. Implemented by the
// realtime hub; nil disables the feed.
type Broadcaster interface {
	BroadcastAlert(alert *event.RiskAlert)
}

// Pipeline is the per-message processing chain. One Pipeline serves all
// partitions; per-entity ordering holds because messages of one entity
// arrive on one partition and partitions are handled sequentially.
type Pipeline struct {
	engine      *engine.Engine
	summary     engine.SummaryService
	recent      *alerts.RecentStore
	audit       alerts.Store // nil disables the audit trail
	publisher   publisher.Publisher
	webhooks    *webhook.Dispatcher
	broadcaster Broadcaster // nil disables the live feed
	logger      *slog.Logger
}

// PipelineOption configures optional pipeline stages.
type PipelineOption func(*Pipeline)

// WithSummary sets the alert summary enrichment service.
func WithSummary(s engine.SummaryService) PipelineOption {
	return func(p *Pipeline) { p.summary = s }
}

// WithAudit sets the best-effort alert audit store.
func WithAudit(s alerts.Store) PipelineOption {
	return func(p *Pipeline) { p.audit = s }
}

// WithBroadcaster sets the live alert feed.
func WithBroadcaster(b Broadcaster) PipelineOption {
	return func(p *Pipeline) { p.broadcaster = b }
}

// NewPipeline wires the mandatory stages of the event path.
func NewPipeline(eng *engine.Engine, recent *alerts.RecentStore, pub publisher.Publisher,
	webhooks *webhook.Dispatcher, logger *slog.Logger, opts ...PipelineOption) *Pipeline {

	p := &Pipeline{
		engine:    eng,
		summary:   engine.NoopSummary{},
		recent:    recent,
		publisher: pub,
		webhooks:  webhooks,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleMessage processes one raw message from the payment-events topic.
// It never returns an error and never panics outward: a poison message
// or a processing failure is logged and the consumer moves on, so one
// bad record cannot stall a partition.
func (p *Pipeline) HandleMessage(ctx context.Context, key, value []byte) {
	timer := prometheus.NewTimer(processingDuration)
	defer timer.ObserveDuration()

	defer func() {
		if r := recover(); r != nil {
			eventsTotal.WithLabelValues("panic").Inc()
			p.logger.Error("panic in event handler", "key", string(key), "panic", r)
		}
	}()

	var ev event.PaymentEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		eventsTotal.WithLabelValues("poison").Inc()
		p.logger.Warn("poison message: undecodable payload", "key", string(key), "error", err)
		return
	}
	if ev.IsEmpty() {
		eventsTotal.WithLabelValues("poison").Inc()
		p.logger.Warn("poison message: empty event", "key", string(key))
		return
	}

	p.logger.Info("payment event received",
		"event_id", ev.EventID,
		"idempotency_key", ev.IdempotencyKey,
		"amount", ev.AmountValue(),
		"event_type", ev.EventType,
		"merchant_ref", ev.MerchantRef,
	)
	eventsTotal.WithLabelValues("processed").Inc()

	ctx, span := traces.StartSpan(ctx, "pipeline.evaluate",
		traces.EventID(ev.EventID), traces.EntityID(ev.EntityID()))
	alert := p.engine.Evaluate(ctx, &ev)
	span.End()
	if alert == nil {
		return
	}

	if explanation, err := p.summary.GenerateSummary(ctx, alert); err != nil {
		p.logger.Warn("alert summary enrichment failed",
			"alert_id", alert.AlertID, "error", err)
	} else if explanation != "" {
		alert.DetailedExplanation = explanation
	}

	// The cache must hold the alert before any downstream consumer can
	// observe it through the recent-alerts endpoint.
	p.recent.Add(alert)
	alertsTotal.WithLabelValues(string(alert.Level)).Inc()

	if p.audit != nil {
		go func(a event.RiskAlert) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
				return p.audit.Record(ctx, &a)
			})
			if err != nil {
				p.logger.Warn("alert audit write failed", "alert_id", a.AlertID, "error", err)
			}
		}(*alert)
	}

	p.publisher.Publish(alert)
	p.webhooks.SendAlert(alert)
	if p.broadcaster != nil {
		p.broadcaster.BroadcastAlert(alert)
	}

	p.logger.Info("risk alert emitted",
		"alert_id", alert.AlertID,
		"entity_id", alert.EntityID,
		"level", alert.Level,
		"score", alert.RiskScore,
	)
}
