package engine

import (
	"context"

	"github.com/mbd888/riskwatch/internal/event"
)

// SummaryService enriches an alert with a human-readable explanation.
// Implementations must be bounded: the consumer calls GenerateSummary
// inline and a slow service would stall the partition. An LLM-backed
// implementation lives outside this module.
type SummaryService interface {
	// GenerateSummary returns an explanation for the alert, or "" when
	// no enrichment is available.
	GenerateSummary(ctx context.Context, alert *event.RiskAlert) (string, error)
}

// NoopSummary is the default SummaryService: it never enriches.
type NoopSummary struct{}

func (NoopSummary) GenerateSummary(context.Context, *event.RiskAlert) (string, error) {
	return "", nil
}
