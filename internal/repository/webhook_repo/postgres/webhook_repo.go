package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"moneyfusion/internal/domain"
)

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Record(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
		INSERT INTO moneyfusion_webhook_events (id, token, event, kind, payload, outcome, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var token sql.NullString
	if event.Token != "" {
		token = sql.NullString{String: event.Token, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		token,
		event.Event,
		event.Kind,
		event.Payload,
		string(event.Outcome),
		event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func (r *WebhookEventRepository) ListByToken(ctx context.Context, token string) ([]domain.WebhookEvent, error) {
	query := `
		SELECT id, token, event, kind, payload, outcome, received_at
		FROM moneyfusion_webhook_events
		WHERE token = $1
		ORDER BY received_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events for token %s: %w", token, err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var (
			e       domain.WebhookEvent
			tok     sql.NullString
			outcome string
		)
		if err := rows.Scan(&e.ID, &tok, &e.Event, &e.Kind, &e.Payload, &outcome, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		e.Token = tok.String
		e.Outcome = domain.WebhookOutcome(outcome)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	return events, nil
}
