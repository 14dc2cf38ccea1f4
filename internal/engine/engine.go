// Package engine scores payment events against the rolling-window
// features and the email↔PAR link graph, producing at most one alert per
// event.
//
// Evaluation itself is pure: given identical aggregator and link-store
// state it always yields the same alert. Signals run in a fixed table
// order and all set-derived data is sorted, so alert ids are stable
// across replays.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/riskwatch/internal/event"
	"github.com/mbd888/riskwatch/internal/linkstore"
	"github.com/mbd888/riskwatch/internal/window"
)

// Default score thresholds.
const (
	DefaultThreshold         = 0.50
	DefaultMediumThreshold   = 0.50
	DefaultHighThreshold     = 0.65
	DefaultCriticalThreshold = 0.85
)

// relatedEventLimit caps how many window event ids are attached to an alert.
const relatedEventLimit = 10

// Engine evaluates events. It owns no state of its own; the aggregator
// and link store are injected so a distributed backend can be swapped in
// without touching scoring.
type Engine struct {
	aggregator *window.Aggregator
	links      *linkstore.Store
	signals    []signal

	threshold         float64
	mediumThreshold   float64
	highThreshold     float64
	criticalThreshold float64

	logger *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithThreshold overrides the minimum score that emits an alert.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithLevelThresholds overrides the MEDIUM/HIGH/CRITICAL score cutoffs.
func WithLevelThresholds(medium, high, critical float64) Option {
	return func(e *Engine) {
		e.mediumThreshold = medium
		e.highThreshold = high
		e.criticalThreshold = critical
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine with the default signal battery.
func New(aggregator *window.Aggregator, links *linkstore.Store, opts ...Option) *Engine {
	e := &Engine{
		aggregator:        aggregator,
		links:             links,
		signals:           defaultSignals(),
		threshold:         DefaultThreshold,
		mediumThreshold:   DefaultMediumThreshold,
		highThreshold:     DefaultHighThreshold,
		criticalThreshold: DefaultCriticalThreshold,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate records ev into its entity window, scores it, and returns an
// alert when the clamped score reaches the threshold or an always-alert
// signal fired. Returns nil otherwise.
//
// The event is recorded before feature extraction so it participates in
// its own window. Its email↔PAR pair is linked after evaluation, so
// linkage signals see only prior observations and a first sighting can
// never trigger itself.
func (e *Engine) Evaluate(ctx context.Context, ev *event.PaymentEvent) *event.RiskAlert {
	entityID := e.aggregator.Record(ev)
	features, _ := e.aggregator.Features(entityID)

	in := &signalInput{
		event:    ev,
		features: features, // nil bypasses feature-dependent signals
		links:    e.links,
	}

	var (
		score     float64
		triggered []event.SignalType
		always    bool
		top       *signal
	)
	for i := range e.signals {
		s := &e.signals[i]
		if !s.evaluate(in) {
			continue
		}
		score += s.weight
		triggered = append(triggered, s.signalType)
		if s.alwaysAlert {
			always = true
		}
		if top == nil || s.weight > top.weight {
			top = s
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	// Make this event's linkage visible to future events, not to itself.
	if ev.Email != "" && ev.PAR != "" {
		e.links.Link(ev.Email, ev.PAR)
	}

	if len(triggered) == 0 || (score < e.threshold && !always) {
		return nil
	}

	ts := time.Now()
	if ev.Timestamp != nil {
		ts = *ev.Timestamp
	}
	alert := &event.RiskAlert{
		AlertID:         alertID(ev.EventID, triggered),
		Timestamp:       ts,
		Level:           e.level(score),
		SignalTypes:     triggered,
		RiskScore:       score,
		EntityID:        entityID,
		EntityType:      event.EntityTypeMerchant,
		RelatedEventIDs: e.relatedEventIDs(entityID),
		Amount:          ev.AmountValue(),
		CurrencyCode:    ev.CurrencyCode,
		Summary:         top.summary(in),
	}

	e.logger.Debug("alert produced",
		"alert_id", alert.AlertID,
		"entity_id", entityID,
		"level", alert.Level,
		"score", score,
		"signals", len(triggered),
	)
	return alert
}

// level maps a score to a severity bucket.
func (e *Engine) level(score float64) event.Level {
	switch {
	case score >= e.criticalThreshold:
		return event.LevelCritical
	case score >= e.highThreshold:
		return event.LevelHigh
	case score >= e.mediumThreshold:
		return event.LevelMedium
	default:
		return event.LevelLow
	}
}

// relatedEventIDs returns the ids of up to the last relatedEventLimit
// entries in the entity's window, oldest first.
func (e *Engine) relatedEventIDs(entityID string) []string {
	entries := e.aggregator.Entries(entityID)
	if len(entries) > relatedEventLimit {
		entries = entries[len(entries)-relatedEventLimit:]
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.EventID != "" {
			ids = append(ids, entry.EventID)
		}
	}
	return ids
}

// alertID derives the stable alert id from the triggering event and the
// sorted triggered signal set. Replays of the same event with the same
// window state produce the same id.
func alertID(eventID string, signals []event.SignalType) string {
	names := make([]string, len(signals))
	for i, s := range signals {
		names[i] = string(s)
	}
	sort.Strings(names)

	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s", eventID, strings.Join(names, ",")))
	return hex.EncodeToString(h[:16])
}
