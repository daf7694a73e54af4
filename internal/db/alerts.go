package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ListAlertCandidates loads every active purchase with a known deadline,
// along with its owner's address and alert preferences. Users without a
// preferences row get the default offsets.
func (db *DB) ListAlertCandidates(ctx context.Context) ([]AlertCandidate, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+purchaseColumns+`, u.email, pr.alert_offsets_days, pr.min_purchase_amount, COALESCE(pr.timezone, 'UTC')
		FROM purchases p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN user_preferences pr ON pr.user_id = p.user_id
		WHERE p.status = ? AND p.return_deadline IS NOT NULL
		ORDER BY p.id`, PurchaseActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert candidates: %w", err)
	}
	defer rows.Close()

	var candidates []AlertCandidate
	for rows.Next() {
		var (
			c         AlertCandidate
			offsets   sql.Null[string]
			minAmount sql.Null[float64]
		)
		p, err := scanPurchase(rows, &c.UserEmail, &offsets, &minAmount, &c.Preferences.Timezone)
		if err != nil {
			return nil, err
		}
		c.Purchase = *p
		c.Preferences.UserID = p.UserID
		c.Preferences.MinPurchaseAmount = nullPtr(minAmount)
		if offsets.Valid {
			if c.Preferences.AlertOffsetsDays, err = decodeOffsets(offsets.V); err != nil {
				return nil, err
			}
		} else {
			c.Preferences.AlertOffsetsDays = append([]int(nil), DefaultAlertOffsets...)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// RecordAlertOnce writes alert unless one with the same purchase and type
// already exists. The existence check, dispatch and insert run inside one
// write transaction, so two concurrent runs cannot both dispatch. The
// alert's status and sent time are set from the dispatch outcome. created
// is false when the alert already existed and dispatch was not called.
//
// Cancelling ctx stops the call before dispatch. Once dispatch has been
// attempted the row is written regardless, so a sent alert is never
// forgotten.
func (db *DB) RecordAlertOnce(ctx context.Context, alert *Alert, dispatch func() error) (created bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	txCtx := context.WithoutCancel(ctx)

	tx, err := db.conn.BeginTx(txCtx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(txCtx,
		"SELECT COUNT(*) FROM alerts WHERE purchase_id = ? AND alert_type = ?",
		alert.PurchaseID, alert.AlertType,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check existing alert: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if alert.Channel == "" {
		alert.Channel = ChannelEmail
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if sendErr := dispatch(); sendErr != nil {
		alert.Status = AlertFailed
		alert.SentAt = nil
	} else {
		now := time.Now().UTC()
		alert.Status = AlertSent
		alert.SentAt = &now
	}

	res, err := tx.ExecContext(txCtx, `
		INSERT INTO alerts (purchase_id, user_id, alert_type, scheduled_for, sent_at, channel, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.PurchaseID, alert.UserID, alert.AlertType, alert.ScheduledFor.UTC().Format(dateLayout),
		nullable(alert.SentAt), alert.Channel, alert.Status,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}
	if alert.ID, err = res.LastInsertId(); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit alert: %w", err)
	}
	return true, nil
}

// ListAlerts returns a user's alerts, most recent first.
func (db *DB) ListAlerts(ctx context.Context, userID int64) ([]Alert, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, purchase_id, user_id, alert_type, scheduled_for, sent_at, channel, status
		FROM alerts WHERE user_id = ?
		ORDER BY scheduled_for DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var (
			a            Alert
			scheduledFor string
			sentAt       sql.Null[time.Time]
		)
		if err := rows.Scan(&a.ID, &a.PurchaseID, &a.UserID, &a.AlertType, &scheduledFor, &sentAt, &a.Channel, &a.Status); err != nil {
			return nil, err
		}
		if a.ScheduledFor, err = time.Parse(dateLayout, scheduledFor); err != nil {
			return nil, fmt.Errorf("failed to parse scheduled_for %q: %w", scheduledFor, err)
		}
		a.SentAt = nullPtr(sentAt)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountAlerts returns how many alerts exist for a purchase.
func (db *DB) CountAlerts(ctx context.Context, purchaseID int64) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts WHERE purchase_id = ?", purchaseID).Scan(&n)
	return n, err
}
