package alerts

import (
	"context"

	"github.com/mbd888/riskwatch/internal/event"
)

// Store persists emitted alerts for audit queries. Writes are best
// effort: the pipeline records asynchronously and a failed write never
// blocks or fails event processing. This is also the extension point
// for moving alert history out of process.
type Store interface {
	Record(ctx context.Context, alert *event.RiskAlert) error
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*event.RiskAlert, error)
}
