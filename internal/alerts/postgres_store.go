package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mbd888/riskwatch/internal/event"
)

// PostgresStore persists alerts in PostgreSQL. Schema is managed by the
// goose migrations under migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, alert *event.RiskAlert) error {
	signals, err := json.Marshal(alert.SignalTypes)
	if err != nil {
		return fmt.Errorf("marshal signal types: %w", err)
	}
	related, err := json.Marshal(alert.RelatedEventIDs)
	if err != nil {
		return fmt.Errorf("marshal related event ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_alerts
			(alert_id, entity_id, entity_type, level, risk_score, signal_types,
			 related_event_ids, amount, currency_code, summary, explanation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (alert_id) DO NOTHING
	`,
		alert.AlertID,
		alert.EntityID,
		alert.EntityType,
		string(alert.Level),
		alert.RiskScore,
		signals,
		related,
		alert.Amount,
		alert.CurrencyCode,
		alert.Summary,
		alert.DetailedExplanation,
		alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]*event.RiskAlert, error) {
	if limit <= 0 {
		limit = DefaultMaxRecent
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, entity_id, entity_type, level, risk_score, signal_types,
		       related_event_ids, amount, currency_code, summary, explanation, created_at
		FROM risk_alerts
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*event.RiskAlert
	for rows.Next() {
		var a event.RiskAlert
		var level string
		var signals, related []byte
		if err := rows.Scan(&a.AlertID, &a.EntityID, &a.EntityType, &level, &a.RiskScore,
			&signals, &related, &a.Amount, &a.CurrencyCode, &a.Summary,
			&a.DetailedExplanation, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Level = event.Level(level)
		_ = json.Unmarshal(signals, &a.SignalTypes)
		_ = json.Unmarshal(related, &a.RelatedEventIDs)
		result = append(result, &a)
	}
	return result, rows.Err()
}
