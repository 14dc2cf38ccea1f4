// Package event defines the payment event and risk alert records shared
// across the pipeline. Both are immutable value types: the consumer
// deserializes a PaymentEvent once and every downstream component reads
// the same struct.
package event

import (
	"strings"
	"time"
)

// Type is the payment lifecycle stage of an event.
type Type string

const (
	TypeRequested Type = "REQUESTED"
	TypeCompleted Type = "COMPLETED"
	TypeFailed    Type = "FAILED"
	TypeRefunded  Type = "REFUNDED"
)

// DefaultEntityID is used when an event carries neither a merchant
// reference nor a correlation id.
const DefaultEntityID = "default"

// EntityTypeMerchant is the only entity type currently produced; the
// field exists so linkage-keyed aggregation can be added later.
const EntityTypeMerchant = "MERCHANT"

// PaymentEvent is the wire format consumed from the payment-events topic.
// Amount and Timestamp are pointers so that null and absent values can be
// distinguished from zero; unknown fields are ignored by the decoder.
type PaymentEvent struct {
	EventID         string     `json:"eventId"`
	IdempotencyKey  string     `json:"idempotencyKey"`
	EventType       Type       `json:"eventType"`
	Amount          *float64   `json:"amount"`
	CurrencyCode    string     `json:"currencyCode"`
	Timestamp       *time.Time `json:"timestamp"`
	MerchantRef     string     `json:"merchantReference"`
	CorrelationID   string     `json:"correlationId"`
	CustomerID      string     `json:"customerId"`
	Email           string     `json:"email"`
	ClientIP        string     `json:"clientIp"`
	PaymentMethodID string     `json:"paymentMethodId"`
	CardBin         string     `json:"cardBin"`
	CardLast4       string     `json:"cardLast4"`
	NetworkToken    string     `json:"networkToken"`
	PAR             string     `json:"par"`
	CardFingerprint string     `json:"cardFingerprint"`
}

// EntityID derives the aggregation key: merchant reference when set,
// correlation id as fallback, "default" otherwise. Deterministic so that
// every component groups the same event identically.
func (e *PaymentEvent) EntityID() string {
	if s := strings.TrimSpace(e.MerchantRef); s != "" {
		return s
	}
	if s := strings.TrimSpace(e.CorrelationID); s != "" {
		return s
	}
	return DefaultEntityID
}

// IsFailure reports whether this event counts toward failure-rate features.
func (e *PaymentEvent) IsFailure() bool {
	return e.EventType == TypeFailed
}

// IsEmpty reports whether the event carries no identifying data at all.
// Such records are poison messages: logged and skipped, never aggregated.
func (e *PaymentEvent) IsEmpty() bool {
	return e.EventID == "" &&
		e.IdempotencyKey == "" &&
		e.EventType == "" &&
		e.Amount == nil &&
		e.MerchantRef == "" &&
		e.CorrelationID == "" &&
		e.CustomerID == ""
}

// AmountValue returns the event amount, treating null as zero.
func (e *PaymentEvent) AmountValue() float64 {
	if e.Amount == nil {
		return 0
	}
	return *e.Amount
}

// Level is the severity bucket of a risk alert.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// rank orders levels for comparisons; unknown levels rank lowest.
func (l Level) rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is the same severity as other or higher.
func (l Level) AtLeast(other Level) bool {
	return l.rank() >= other.rank()
}

// SignalType names a risk condition that contributed to an alert.
type SignalType string

const (
	SignalHighFailureRate  SignalType = "HIGH_FAILURE_RATE"
	SignalVelocitySpike    SignalType = "VELOCITY_SPIKE"
	SignalLargeAmount      SignalType = "LARGE_AMOUNT"
	SignalAmountEscalation SignalType = "AMOUNT_ESCALATION"
	SignalOffHours         SignalType = "OFF_HOURS"
	SignalEmailMultiPAR    SignalType = "EMAIL_MULTIPLE_PAR"
	SignalPARMultiEmail    SignalType = "PAR_MULTIPLE_EMAIL"
)

// RiskAlert is the record published to the risk-alerts topic, pushed to
// webhooks, and cached for the operator API. AlertID is a stable hash of
// the triggering event and the triggered signal set, so replayed events
// produce the same id and downstream consumers can dedupe.
type RiskAlert struct {
	AlertID             string       `json:"alertId"`
	Timestamp           time.Time    `json:"timestamp"`
	Level               Level        `json:"level"`
	SignalTypes         []SignalType `json:"signalTypes"`
	RiskScore           float64      `json:"riskScore"`
	EntityID            string       `json:"entityId"`
	EntityType          string       `json:"entityType"`
	RelatedEventIDs     []string     `json:"relatedEventIds"`
	Amount              float64      `json:"amount"`
	CurrencyCode        string       `json:"currencyCode"`
	Summary             string       `json:"summary"`
	DetailedExplanation string       `json:"detailedExplanation,omitempty"`
}

// Key returns the partition key for the risk-alerts topic: the entity id,
// falling back to the alert id for alerts without one.
func (a *RiskAlert) Key() string {
	if a.EntityID != "" {
		return a.EntityID
	}
	return a.AlertID
}
