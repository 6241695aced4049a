package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"moneyfusion/internal/domain"
)

type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (id, aggregate_id, message_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := querier.ExecContext(ctx, query,
		msg.ID,
		msg.AggregateID,
		msg.MessageType,
		msg.Payload,
		msg.Status,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

// ClaimPendingMessages leases up to limit pending rows to the caller. Rows
// locked or leased by another relay are skipped; an expired lease makes a row
// claimable again.
func (r *OutboxRepository) ClaimPendingMessages(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	query := `
		UPDATE outbox_messages
		SET claimed_until = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE id IN (
			SELECT id
			FROM outbox_messages
			WHERE status = $1 AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_id, message_type, payload, status, created_at, sent_at
	`
	rows, err := r.db.QueryContext(ctx, query, domain.OutboxStatusPending, limit, lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		msg := domain.OutboxMessage{}
		var sentAt sql.NullTime
		err := rows.Scan(
			&msg.ID,
			&msg.AggregateID,
			&msg.MessageType,
			&msg.Payload,
			&msg.Status,
			&msg.CreatedAt,
			&sentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		if sentAt.Valid {
			msg.SentAt = &sentAt.Time
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	// RETURNING does not keep the subquery order.
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	return messages, nil
}

// ReleaseMessages drops the lease on still-pending rows so the next poll can
// retry them.
func (r *OutboxRepository) ReleaseMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE outbox_messages
		SET claimed_until = NULL
		WHERE id = ANY($1) AND status = $2
	`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids), domain.OutboxStatusPending); err != nil {
		return fmt.Errorf("failed to release outbox messages: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkMessagesAsSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE outbox_messages
		SET status = $1, sent_at = $2
		WHERE id = ANY($3)
	`
	res, err := r.db.ExecContext(ctx, query, domain.OutboxStatusSent, time.Now(), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox messages as sent: %w", err)
	}
	return checkAffected(res, len(ids), "sent")
}

func (r *OutboxRepository) MarkMessagesAsFailed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE outbox_messages
		SET status = $1, sent_at = NULL
		WHERE id = ANY($2)
	`
	res, err := r.db.ExecContext(ctx, query, domain.OutboxStatusFailed, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox messages as failed: %w", err)
	}
	return checkAffected(res, len(ids), "failed")
}

func checkAffected(res sql.Result, want int, status string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for outbox %s: %w", status, err)
	}
	if rowsAffected != int64(want) {
		return fmt.Errorf("not all outbox messages were marked as %s; expected %d, got %d", status, want, rowsAffected)
	}
	return nil
}
