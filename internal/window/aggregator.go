// Package window maintains per-entity rolling windows of payment events
// and computes the derived features the risk engine scores against.
//
// State is authoritative in-process: one append-only entry list per
// entity, pruned lazily on record and snapshotted on read. The Aggregator
// interface boundary exists so a durable backend (a KV store with TTL or
// a streams engine) can replace the in-memory implementation without
// touching the engine.
package window

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/riskwatch/internal/event"
)

const (
	// DefaultWindow is the trailing interval features are computed over.
	DefaultWindow = 5 * time.Minute
	// DefaultVelocityWindow is the short window behind countLast1Min.
	DefaultVelocityWindow = time.Minute

	// maxEntries caps a single entity's window so a runaway producer
	// cannot exhaust memory before eviction catches up.
	maxEntries = 1000
)

// Entry is a single recorded event inside an entity's window. Entries are
// created on record and never mutated afterwards.
type Entry struct {
	EventID     string
	TimestampMs int64
	Amount      float64
	IsFailure   bool
}

// Features is the snapshot of derived aggregates for one entity window.
type Features struct {
	EntityID      string `json:"entityId"`
	EntityType    string `json:"entityType"`
	WindowStartMs int64  `json:"windowStartMs"`
	WindowEndMs   int64  `json:"windowEndMs"`

	TotalCount   int     `json:"totalCount"`
	FailureCount int     `json:"failureCount"`
	FailureRate  float64 `json:"failureRate"`

	TotalAmount float64 `json:"totalAmount"`
	AvgAmount   float64 `json:"avgAmount"`
	MaxAmount   float64 `json:"maxAmount"`
	MinAmount   float64 `json:"minAmount"`

	CountLast1Min int `json:"countLast1Min"`
	// CountLast5Min equals TotalCount while the window itself is 5
	// minutes; kept as a separate field for downstream compatibility.
	CountLast5Min int `json:"countLast5Min"`

	HourOfDay int `json:"hourOfDay"`
	DayOfWeek int `json:"dayOfWeek"` // Monday = 0

	SecondsSinceLastTransaction float64 `json:"secondsSinceLastTransaction"`

	AmountVariance        float64 `json:"amountVariance"`
	AmountTrend           int     `json:"amountTrend"` // sign of last - first
	IncreasingAmountCount int     `json:"increasingAmountCount"`
	DecreasingAmountCount int     `json:"decreasingAmountCount"`
	AvgTimeGapSeconds     float64 `json:"avgTimeGapSeconds"`
}

// Aggregator records events into per-entity rolling windows.
type Aggregator struct {
	windows        sync.Map // entityID → *entityWindow
	window         time.Duration
	velocityWindow time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

type entityWindow struct {
	mu      sync.Mutex
	entries []Entry
}

// Option configures the Aggregator.
type Option func(*Aggregator)

// WithWindow overrides the rolling window duration.
func WithWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithVelocityWindow overrides the short velocity window.
func WithVelocityWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.velocityWindow = d
		}
	}
}

// WithLogger sets a structured logger for input warnings.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New creates an aggregator with the default 5-minute window.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		window:         DefaultWindow,
		velocityWindow: DefaultVelocityWindow,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record appends ev to its entity's window and evicts expired entries
// from that same window. Null timestamps are normalized to now and null
// amounts to zero, each with a warning; Record never fails on malformed
// input. Returns the derived entity id.
//
// Mutations to one entity's window are serialized; distinct entities
// record in parallel.
func (a *Aggregator) Record(ev *event.PaymentEvent) string {
	entityID := ev.EntityID()
	now := a.now()

	ts := now
	if ev.Timestamp != nil {
		ts = *ev.Timestamp
	} else {
		a.logger.Warn("event missing timestamp, substituting receive time",
			"event_id", ev.EventID, "entity_id", entityID)
	}

	amount := 0.0
	if ev.Amount != nil {
		amount = *ev.Amount
	} else {
		a.logger.Warn("event missing amount, treating as zero",
			"event_id", ev.EventID, "entity_id", entityID)
	}

	w := a.getWindow(entityID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, Entry{
		EventID:     ev.EventID,
		TimestampMs: ts.UnixMilli(),
		Amount:      amount,
		IsFailure:   ev.IsFailure(),
	})
	a.prune(w, now)
	return entityID
}

// Features computes the derived aggregates for entityID over entries in
// [now - window, now]. Returns false when no in-window entries exist.
// The entry list is copied under the entity lock; all computation happens
// on the snapshot.
func (a *Aggregator) Features(entityID string) (*Features, bool) {
	v, ok := a.windows.Load(entityID)
	if !ok {
		return nil, false
	}
	w := v.(*entityWindow)

	now := a.now()
	w.mu.Lock()
	snapshot := make([]Entry, len(w.entries))
	copy(snapshot, w.entries)
	w.mu.Unlock()

	nowMs := now.UnixMilli()
	cutoff := nowMs - a.window.Milliseconds()
	inWindow := snapshot[:0:0]
	for _, e := range snapshot {
		if e.TimestampMs >= cutoff {
			inWindow = append(inWindow, e)
		}
	}
	if len(inWindow) == 0 {
		return nil, false
	}
	sort.Slice(inWindow, func(i, j int) bool {
		return inWindow[i].TimestampMs < inWindow[j].TimestampMs
	})

	return a.compute(entityID, inWindow, nowMs, cutoff), true
}

// FeaturesForEvent is the lookup-only companion of Record: it computes
// features for ev's entity without recording ev. Callers that want a
// pre-event view of the window use this.
func (a *Aggregator) FeaturesForEvent(ev *event.PaymentEvent) (*Features, bool) {
	return a.Features(ev.EntityID())
}

// Entries returns a copy of the in-window entries for entityID, oldest
// first. Used by the engine to attach related event ids to alerts.
func (a *Aggregator) Entries(entityID string) []Entry {
	v, ok := a.windows.Load(entityID)
	if !ok {
		return nil
	}
	w := v.(*entityWindow)

	cutoff := a.now().UnixMilli() - a.window.Milliseconds()
	w.mu.Lock()
	defer w.mu.Unlock()
	result := make([]Entry, 0, len(w.entries))
	for _, e := range w.entries {
		if e.TimestampMs >= cutoff {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result
}

func (a *Aggregator) getWindow(entityID string) *entityWindow {
	v, _ := a.windows.LoadOrStore(entityID, &entityWindow{})
	return v.(*entityWindow)
}

// prune drops expired entries and caps the list. Caller holds w.mu.
func (a *Aggregator) prune(w *entityWindow, now time.Time) {
	cutoff := now.UnixMilli() - a.window.Milliseconds()
	start := 0
	for start < len(w.entries) && w.entries[start].TimestampMs < cutoff {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if len(w.entries) > maxEntries {
		w.entries = w.entries[len(w.entries)-maxEntries:]
	}
}

// compute derives all features from a sorted in-window snapshot.
func (a *Aggregator) compute(entityID string, entries []Entry, nowMs, cutoff int64) *Features {
	f := &Features{
		EntityID:      entityID,
		EntityType:    event.EntityTypeMerchant,
		WindowStartMs: cutoff,
		WindowEndMs:   nowMs,
		TotalCount:    len(entries),
	}

	velocityCutoff := nowMs - a.velocityWindow.Milliseconds()
	f.MinAmount = math.MaxFloat64
	var sum float64
	for _, e := range entries {
		sum += e.Amount
		if e.IsFailure {
			f.FailureCount++
		}
		if e.Amount > f.MaxAmount {
			f.MaxAmount = e.Amount
		}
		if e.Amount < f.MinAmount {
			f.MinAmount = e.Amount
		}
		if e.TimestampMs >= velocityCutoff {
			f.CountLast1Min++
		}
	}
	f.TotalAmount = sum
	f.CountLast5Min = f.TotalCount
	f.FailureRate = float64(f.FailureCount) / float64(f.TotalCount)
	f.AvgAmount = round2(sum / float64(f.TotalCount))

	last := entries[len(entries)-1]
	lastTS := time.UnixMilli(last.TimestampMs).UTC()
	f.HourOfDay = lastTS.Hour()
	f.DayOfWeek = (int(lastTS.Weekday()) + 6) % 7 // time.Weekday is Sunday=0

	if len(entries) >= 2 {
		prev := entries[len(entries)-2]
		f.SecondsSinceLastTransaction = float64(nowMs-prev.TimestampMs) / 1000.0

		mean := sum / float64(len(entries))
		var ss float64
		for _, e := range entries {
			d := e.Amount - mean
			ss += d * d
		}
		f.AmountVariance = ss / float64(len(entries))

		switch {
		case last.Amount > entries[0].Amount:
			f.AmountTrend = 1
		case last.Amount < entries[0].Amount:
			f.AmountTrend = -1
		}

		var gapSum float64
		for i := 1; i < len(entries); i++ {
			gapSum += float64(entries[i].TimestampMs-entries[i-1].TimestampMs) / 1000.0
			if entries[i].Amount > entries[i-1].Amount {
				f.IncreasingAmountCount++
			} else if entries[i].Amount < entries[i-1].Amount {
				f.DecreasingAmountCount++
			}
		}
		f.AvgTimeGapSeconds = gapSum / float64(len(entries)-1)
	}

	return f
}

// round2 rounds to two decimals, half away from zero. Amounts are
// non-negative so this matches HALF_UP.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
