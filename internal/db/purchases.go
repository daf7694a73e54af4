package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"return-radar-service/internal/parser"
)

// Email operations

// InsertEmail records an inbound message. A message already seen for the
// same user yields ErrDuplicateEmail.
func (db *DB) InsertEmail(ctx context.Context, e *Email) error {
	if e.ParsedStatus == "" {
		e.ParsedStatus = ParsedPending
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO emails (user_id, provider_message_id, from_address, from_domain, subject,
			body_excerpt, classification, parsed_status, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.ProviderMessageID, e.FromAddress, e.FromDomain, e.Subject,
		e.BodyExcerpt, e.Classification, e.ParsedStatus, e.ReceivedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert email: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// EmailSeen reports whether a message with this provider id is already
// recorded for the user.
func (db *DB) EmailSeen(ctx context.Context, userID int64, messageID string) (bool, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM emails WHERE user_id = ? AND provider_message_id = ?",
		userID, messageID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return n > 0, nil
}

func (db *DB) SetEmailParsedStatus(ctx context.Context, emailID int64, status string) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE emails SET parsed_status = ? WHERE id = ?", status, emailID)
	if err != nil {
		return fmt.Errorf("failed to update email status: %w", err)
	}
	return expectOneRow(res)
}

func (db *DB) GetEmail(ctx context.Context, id int64) (*Email, error) {
	var e Email
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, provider_message_id, COALESCE(from_address, ''), COALESCE(from_domain, ''),
			COALESCE(subject, ''), COALESCE(body_excerpt, ''), classification, parsed_status, received_at
		FROM emails WHERE id = ?`, id,
	).Scan(&e.ID, &e.UserID, &e.ProviderMessageID, &e.FromAddress, &e.FromDomain,
		&e.Subject, &e.BodyExcerpt, &e.Classification, &e.ParsedStatus, &e.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Purchase operations

const purchaseColumns = `p.id, p.user_id, p.source_email_id, p.merchant_name, p.merchant_domain, p.order_id,
	p.order_date, p.delivery_date, p.total_amount, p.currency, p.items, p.return_window_days,
	p.return_deadline, p.policy_source, p.confidence, p.status, p.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanPurchase reads purchaseColumns followed by any extra destinations.
func scanPurchase(s rowScanner, extra ...any) (*Purchase, error) {
	var (
		p              Purchase
		sourceEmailID  sql.Null[int64]
		merchantName   sql.Null[string]
		merchantDomain sql.Null[string]
		orderID        sql.Null[string]
		orderDate      sql.Null[string]
		deliveryDate   sql.Null[string]
		deadline       sql.Null[string]
		currency       sql.Null[string]
		items          sql.Null[string]
		totalAmount    sql.Null[float64]
		windowDays     sql.Null[int]
	)
	dest := []any{
		&p.ID, &p.UserID, &sourceEmailID, &merchantName, &merchantDomain, &orderID,
		&orderDate, &deliveryDate, &totalAmount, &currency, &items, &windowDays,
		&deadline, &p.PolicySource, &p.Confidence, &p.Status, &p.CreatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	p.SourceEmailID = nullPtr(sourceEmailID)
	p.MerchantName = nullPtr(merchantName)
	p.MerchantDomain = nullPtr(merchantDomain)
	p.OrderID = nullPtr(orderID)
	p.TotalAmount = nullPtr(totalAmount)
	p.Currency = nullPtr(currency)
	p.Items = nullPtr(items)
	p.ReturnWindowDays = nullPtr(windowDays)

	var err error
	if p.OrderDate, err = parseDate(orderDate); err != nil {
		return nil, err
	}
	if p.DeliveryDate, err = parseDate(deliveryDate); err != nil {
		return nil, err
	}
	if p.ReturnDeadline, err = parseDate(deadline); err != nil {
		return nil, err
	}
	return &p, nil
}

func nullPtr[T any](n sql.Null[T]) *T {
	if !n.Valid {
		return nil
	}
	v := n.V
	return &v
}

// SavePurchase inserts p and marks its source email as parsed in the same
// transaction. When the user already has a purchase with the same order id
// and merchant domain, the source email is marked skipped instead and
// ErrDuplicatePurchase is returned.
func (db *DB) SavePurchase(ctx context.Context, p *Purchase) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if p.Status == "" {
		p.Status = PurchaseActive
	}
	p.CreatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO purchases (user_id, source_email_id, merchant_name, merchant_domain, order_id,
			order_date, delivery_date, total_amount, currency, items, return_window_days,
			return_deadline, policy_source, confidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, nullable(p.SourceEmailID), nullable(p.MerchantName), nullable(p.MerchantDomain), nullable(p.OrderID),
		formatDate(p.OrderDate), formatDate(p.DeliveryDate), nullable(p.TotalAmount), nullable(p.Currency),
		nullable(p.Items), nullable(p.ReturnWindowDays), formatDate(p.ReturnDeadline),
		p.PolicySource, p.Confidence, p.Status, p.CreatedAt,
	)

	emailStatus := ParsedSuccess
	var result error
	switch {
	case err == nil:
		if p.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	case isUniqueViolation(err):
		emailStatus = ParsedSkipped
		result = ErrDuplicatePurchase
	default:
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	if p.SourceEmailID != nil {
		if _, err := tx.ExecContext(ctx, "UPDATE emails SET parsed_status = ? WHERE id = ?", emailStatus, *p.SourceEmailID); err != nil {
			return fmt.Errorf("failed to update email status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purchase: %w", err)
	}
	return result
}

func (db *DB) GetPurchase(ctx context.Context, id int64) (*Purchase, error) {
	p, err := scanPurchase(db.conn.QueryRowContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases p WHERE p.id = ?", id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListPurchases returns a user's purchases, soonest deadline first and
// unknown deadlines last.
func (db *DB) ListPurchases(ctx context.Context, userID int64) ([]Purchase, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+purchaseColumns+` FROM purchases p
		WHERE p.user_id = ?
		ORDER BY p.return_deadline IS NULL, p.return_deadline ASC, p.id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}

// UpdatePurchase applies a user action. Overriding the return window marks
// the policy as user_override and recomputes the deadline from the anchor
// date.
func (db *DB) UpdatePurchase(ctx context.Context, id int64, upd PurchaseUpdate) (*Purchase, error) {
	if upd.Status != nil && !ValidPurchaseStatus(*upd.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidUpdate, *upd.Status)
	}
	if upd.ReturnWindowDays != nil && *upd.ReturnWindowDays < 0 {
		return nil, fmt.Errorf("%w: negative return window", ErrInvalidUpdate)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPurchase(tx.QueryRowContext(ctx, "SELECT "+purchaseColumns+" FROM purchases p WHERE p.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.ReturnWindowDays != nil {
		days := *upd.ReturnWindowDays
		p.ReturnWindowDays = &days
		p.PolicySource = string(parser.PolicyUserOverride)
		p.ReturnDeadline = parser.ComputeDeadline(p.OrderDate, p.DeliveryDate, days)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE purchases SET status = ?, return_window_days = ?, policy_source = ?, return_deadline = ? WHERE id = ?",
		p.Status, nullable(p.ReturnWindowDays), p.PolicySource, formatDate(p.ReturnDeadline), p.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update purchase: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit purchase update: %w", err)
	}
	return p, nil
}

// DeletePurchase removes a purchase together with its alerts.
func (db *DB) DeletePurchase(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM alerts WHERE purchase_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete alerts: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM purchases WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete purchase: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
