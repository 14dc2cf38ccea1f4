package engine

import (
	"fmt"

	"github.com/mbd888/riskwatch/internal/event"
	"github.com/mbd888/riskwatch/internal/linkstore"
	"github.com/mbd888/riskwatch/internal/window"
)

// Published signal weights. The final score is the clamped sum of the
// weights of every triggered signal.
const (
	weightHighFailureRate  = 0.35
	weightVelocitySpike    = 0.30
	weightLargeAmount      = 0.20
	weightAmountEscalation = 0.25
	weightOffHours         = 0.10
	weightEmailMultiPAR    = 0.30
	weightPARMultiEmail    = 0.30
)

// Signal trigger conditions.
const (
	failureRateFloor    = 0.5 // failureRate at or above this triggers
	failureMinCount     = 3   // with at least this many events in window
	velocityFloor       = 10  // events in the last minute
	largeAmountMultiple = 3.0 // event amount vs window average
	escalationMinRuns   = 3   // adjacent increasing pairs
	escalationMaxGapSec = 30.0
	offHoursLastHour    = 5   // hours 0..5 UTC are off-hours
	offHoursAmountFloor = 500.0
	linkFanoutFloor     = 3 // distinct PARs per email (or emails per PAR)
)

// signalInput is the read view a signal evaluates against. features is
// nil when the entity has no in-window history, which bypasses every
// feature-dependent signal.
type signalInput struct {
	event    *event.PaymentEvent
	features *window.Features
	links    *linkstore.Store
}

// signal is one row of the battery: a condition, its weight, and the
// summary template used when it is the highest-weight trigger.
type signal struct {
	signalType  event.SignalType
	weight      float64
	alwaysAlert bool
	evaluate    func(in *signalInput) bool
	summary     func(in *signalInput) string
}

// defaultSignals returns the battery in its published order. Order is
// part of the contract: evaluation and tie-breaking follow it.
func defaultSignals() []signal {
	return []signal{
		{
			signalType: event.SignalHighFailureRate,
			weight:     weightHighFailureRate,
			evaluate: func(in *signalInput) bool {
				return in.features != nil &&
					in.features.TotalCount >= failureMinCount &&
					in.features.FailureRate >= failureRateFloor
			},
			summary: func(in *signalInput) string {
				return fmt.Sprintf("High failure rate: %.0f%% of %d events in window failed",
					in.features.FailureRate*100, in.features.TotalCount)
			},
		},
		{
			signalType: event.SignalVelocitySpike,
			weight:     weightVelocitySpike,
			evaluate: func(in *signalInput) bool {
				return in.features != nil && in.features.CountLast1Min >= velocityFloor
			},
			summary: func(in *signalInput) string {
				return fmt.Sprintf("Velocity spike: %d events in the last minute",
					in.features.CountLast1Min)
			},
		},
		{
			signalType: event.SignalLargeAmount,
			weight:     weightLargeAmount,
			evaluate: func(in *signalInput) bool {
				return in.features != nil && in.features.AvgAmount > 0 &&
					in.event.AmountValue() >= largeAmountMultiple*in.features.AvgAmount
			},
			summary: func(in *signalInput) string {
				return fmt.Sprintf("Large amount: %.2f is %.1fx the window average %.2f",
					in.event.AmountValue(),
					in.event.AmountValue()/in.features.AvgAmount,
					in.features.AvgAmount)
			},
		},
		{
			signalType: event.SignalAmountEscalation,
			weight:     weightAmountEscalation,
			evaluate: func(in *signalInput) bool {
				// Rapid run of increasing amounts: the card-testing pattern.
				return in.features != nil &&
					in.features.IncreasingAmountCount >= escalationMinRuns &&
					in.features.AvgTimeGapSeconds < escalationMaxGapSec
			},
			summary: func(in *signalInput) string {
				return fmt.Sprintf("Amount escalation: %d increasing steps, avg gap %.1fs",
					in.features.IncreasingAmountCount, in.features.AvgTimeGapSeconds)
			},
		},
		{
			signalType: event.SignalOffHours,
			weight:     weightOffHours,
			evaluate: func(in *signalInput) bool {
				if in.features == nil || in.features.HourOfDay > offHoursLastHour {
					return false
				}
				floor := in.features.AvgAmount
				if floor < offHoursAmountFloor {
					floor = offHoursAmountFloor
				}
				return in.event.AmountValue() > floor
			},
			summary: func(in *signalInput) string {
				return fmt.Sprintf("Off-hours activity: %.2f at %02d:00 UTC",
					in.event.AmountValue(), in.features.HourOfDay)
			},
		},
		{
			signalType: event.SignalEmailMultiPAR,
			weight:     weightEmailMultiPAR,
			evaluate: func(in *signalInput) bool {
				return in.event.Email != "" &&
					in.links.PARCount(in.event.Email) >= linkFanoutFloor
			},
			summary: func(in *signalInput) string {
				return fmt.Sprintf("Email linked to %d payment accounts",
					in.links.PARCount(in.event.Email))
			},
		},
		{
			signalType: event.SignalPARMultiEmail,
			weight:     weightPARMultiEmail,
			evaluate: func(in *signalInput) bool {
				return in.event.PAR != "" &&
					in.links.EmailCount(in.event.PAR) >= linkFanoutFloor
			},
			summary: func(in *signalInput) string {
				return fmt.Sprintf("Payment account linked to %d emails",
					in.links.EmailCount(in.event.PAR))
			},
		},
	}
}
