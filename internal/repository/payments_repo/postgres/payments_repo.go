package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"moneyfusion/internal/domain"
)

const uniqueViolation = "23505"

const paymentColumns = `token, amount, fee, transaction_ref, status, method, customer_name, customer_phone,
	payment_url, user_id, order_id, line_items, metadata, raw_response, paid_at, version, created_at, updated_at`

// OutboxWriter inserts an outbox row using the caller's transaction.
type OutboxWriter interface {
	CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error
}

type PaymentRepository struct {
	db     *sql.DB
	outbox OutboxWriter
}

func NewPaymentRepository(db *sql.DB, outbox OutboxWriter) *PaymentRepository {
	return &PaymentRepository{db: db, outbox: outbox}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	lineItems, metadata, raw, err := encodeJSONColumns(payment)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO moneyfusion_payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = r.db.ExecContext(ctx, query,
		payment.Token,
		payment.Amount,
		payment.Fee,
		nullString(payment.TransactionRef),
		string(payment.Status),
		nullString(payment.Method),
		payment.CustomerName,
		nullString(payment.CustomerPhone),
		nullString(payment.PaymentURL),
		nullIfEmpty(payment.UserID()),
		nullIfEmpty(payment.OrderID()),
		lineItems,
		metadata,
		raw,
		nullTime(payment),
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("payment %s: %w", payment.Token, domain.ErrPaymentAlreadyExists)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByToken(ctx context.Context, token string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM moneyfusion_payments WHERE token = $1`

	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", token, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment by token %s: %w", token, err)
	}
	return payment, nil
}

func (r *PaymentRepository) List(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}

	query := `SELECT ` + paymentColumns + ` FROM moneyfusion_payments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}

func (r *PaymentRepository) CompareAndSwap(ctx context.Context, next *domain.Payment, expectedStatus domain.PaymentStatus, expectedVersion int64, msg *domain.OutboxMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.compareAndSwapTx(ctx, tx, next, expectedStatus, expectedVersion); err != nil {
		return err
	}
	if msg != nil {
		if err := r.outbox.CreateMessageTx(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment update: %w", err)
	}
	next.Version = expectedVersion + 1
	return nil
}

func (r *PaymentRepository) compareAndSwapTx(ctx context.Context, querier domain.Querier, next *domain.Payment, expectedStatus domain.PaymentStatus, expectedVersion int64) error {
	lineItems, metadata, raw, err := encodeJSONColumns(next)
	if err != nil {
		return err
	}

	query := `
		UPDATE moneyfusion_payments
		SET fee = $1, transaction_ref = $2, status = $3, method = $4, line_items = $5,
		    metadata = $6, raw_response = $7, paid_at = $8, version = version + 1, updated_at = $9
		WHERE token = $10 AND status = $11 AND version = $12
	`
	res, err := querier.ExecContext(ctx, query,
		next.Fee,
		nullString(next.TransactionRef),
		string(next.Status),
		nullString(next.Method),
		lineItems,
		metadata,
		raw,
		nullTime(next),
		next.UpdatedAt,
		next.Token,
		string(expectedStatus),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", next.Token, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payment %s: %w", next.Token, domain.ErrConcurrentUpdate)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p                                domain.Payment
		status                           string
		transactionRef, method, phone    sql.NullString
		paymentURL, userID, orderID      sql.NullString
		lineItems, metadata, rawResponse []byte
		paidAt                           sql.NullTime
	)
	err := row.Scan(
		&p.Token,
		&p.Amount,
		&p.Fee,
		&transactionRef,
		&status,
		&method,
		&p.CustomerName,
		&phone,
		&paymentURL,
		&userID,
		&orderID,
		&lineItems,
		&metadata,
		&rawResponse,
		&paidAt,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PaymentStatus(status)
	p.TransactionRef = ptrString(transactionRef)
	p.Method = ptrString(method)
	p.CustomerPhone = ptrString(phone)
	p.PaymentURL = ptrString(paymentURL)
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}

	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &p.LineItems); err != nil {
			return nil, fmt.Errorf("decode line_items: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(rawResponse) > 0 {
		if err := json.Unmarshal(rawResponse, &p.RawResponse); err != nil {
			return nil, fmt.Errorf("decode raw_response: %w", err)
		}
	}
	if p.Metadata == nil && (userID.Valid || orderID.Valid) {
		p.Metadata = map[string]string{}
	}
	if userID.Valid {
		p.Metadata[domain.MetadataUserID] = userID.String
	}
	if orderID.Valid {
		p.Metadata[domain.MetadataOrderID] = orderID.String
	}
	return &p, nil
}

func encodeJSONColumns(p *domain.Payment) (lineItems, metadata, raw []byte, err error) {
	if lineItems, err = json.Marshal(orEmptySlice(p.LineItems)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode line_items: %w", err)
	}
	if metadata, err = json.Marshal(orEmptyMap(p.Metadata)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	rawValue := p.RawResponse
	if rawValue == nil {
		rawValue = map[string]any{}
	}
	if raw, err = json.Marshal(rawValue); err != nil {
		return nil, nil, nil, fmt.Errorf("encode raw_response: %w", err)
	}
	return lineItems, metadata, raw, nil
}

func orEmptySlice(items []domain.LineItem) []domain.LineItem {
	if items == nil {
		return []domain.LineItem{}
	}
	return items
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(p *domain.Payment) sql.NullTime {
	if p.PaidAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p.PaidAt, Valid: true}
}

func ptrString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
