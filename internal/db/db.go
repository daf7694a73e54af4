package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateUser     = errors.New("user already exists")
	ErrDuplicateEmail    = errors.New("email already ingested")
	ErrDuplicatePurchase = errors.New("purchase already recorded")
	ErrInvalidUpdate     = errors.New("invalid update")
)

const dateLayout = "2006-01-02"

type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at dbPath and applies the schema. Write
// transactions take the database lock at BEGIN, so the check-then-insert
// sequences below are serialized across connections and processes.
func New(dbPath string) (*DB, error) {
	dsn := dbPath + "?_busy_timeout=30000&_foreign_keys=on&_txlock=immediate&_journal_mode=WAL"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		inbound_address TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id INTEGER PRIMARY KEY,
		alert_offsets_days TEXT NOT NULL DEFAULT '[10,3,1]',
		min_purchase_amount REAL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		provider_message_id TEXT NOT NULL,
		from_address TEXT,
		from_domain TEXT,
		subject TEXT,
		body_excerpt TEXT,
		classification TEXT NOT NULL DEFAULT 'unknown',
		parsed_status TEXT NOT NULL DEFAULT 'pending',
		received_at DATETIME NOT NULL,
		UNIQUE (user_id, provider_message_id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS merchant_policies (
		merchant_domain TEXT PRIMARY KEY,
		merchant_name TEXT NOT NULL,
		default_return_window_days INTEGER NOT NULL,
		notes TEXT,
		last_updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS purchases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		source_email_id INTEGER,
		merchant_name TEXT,
		merchant_domain TEXT,
		order_id TEXT,
		order_date TEXT,
		delivery_date TEXT,
		total_amount REAL,
		currency TEXT,
		items TEXT,
		return_window_days INTEGER,
		return_deadline TEXT,
		policy_source TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, order_id, merchant_domain),
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (source_email_id) REFERENCES emails(id)
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		purchase_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		alert_type TEXT NOT NULL,
		scheduled_for TEXT NOT NULL,
		sent_at DATETIME,
		channel TEXT NOT NULL DEFAULT 'email',
		status TEXT NOT NULL DEFAULT 'pending',
		UNIQUE (purchase_id, alert_type),
		FOREIGN KEY (purchase_id) REFERENCES purchases(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_user_deadline ON purchases(user_id, return_deadline);
	CREATE INDEX IF NOT EXISTS idx_purchases_active_deadline ON purchases(status, return_deadline);
	CREATE INDEX IF NOT EXISTS idx_alerts_user_scheduled ON alerts(user_id, scheduled_for DESC);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// User operations

// CreateUser stores a user together with a default preferences row.
func (db *DB) CreateUser(ctx context.Context, email, inboundAddress string) (*User, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	u := User{
		Email:          strings.ToLower(strings.TrimSpace(email)),
		InboundAddress: strings.ToLower(inboundAddress),
		CreatedAt:      time.Now().UTC(),
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO users (email, inbound_address, created_at) VALUES (?, ?, ?)",
		u.Email, u.InboundAddress, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}

	offsets, err := json.Marshal(DefaultAlertOffsets)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO user_preferences (user_id, alert_offsets_days) VALUES (?, ?)",
		u.ID, string(offsets),
	); err != nil {
		return nil, fmt.Errorf("failed to insert preferences: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user: %w", err)
	}
	return &u, nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, email, inbound_address, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Email, &u.InboundAddress, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ResolveRecipient finds the user owning an inbound address, first by the
// local part alone and then by the full address. It returns nil, nil when
// nobody owns the address.
func (db *DB) ResolveRecipient(ctx context.Context, recipient string) (*User, error) {
	recipient = strings.ToLower(strings.TrimSpace(recipient))
	if recipient == "" {
		return nil, nil
	}

	query := "SELECT id, email, inbound_address, created_at FROM users WHERE %s ORDER BY id LIMIT 1"

	if local, _, ok := strings.Cut(recipient, "@"); ok && local != "" {
		u, err := db.queryUser(ctx, fmt.Sprintf(query, `inbound_address LIKE ? ESCAPE '\'`), escapeLike(local)+"@%")
		if u != nil || err != nil {
			return u, err
		}
	}
	return db.queryUser(ctx, fmt.Sprintf(query, "inbound_address = ?"), recipient)
}

func (db *DB) queryUser(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Email, &u.InboundAddress, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}
	return &u, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Preferences operations

func (db *DB) GetPreferences(ctx context.Context, userID int64) (*Preferences, error) {
	var (
		offsets   string
		minAmount sql.Null[float64]
		p         = Preferences{UserID: userID}
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT alert_offsets_days, min_purchase_amount, timezone FROM user_preferences WHERE user_id = ?", userID,
	).Scan(&offsets, &minAmount, &p.Timezone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if p.AlertOffsetsDays, err = decodeOffsets(offsets); err != nil {
		return nil, err
	}
	if minAmount.Valid {
		p.MinPurchaseAmount = &minAmount.V
	}
	return &p, nil
}

// UpdatePreferences replaces a user's preferences.
func (db *DB) UpdatePreferences(ctx context.Context, p Preferences) error {
	u, err := db.GetUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrNotFound
	}

	offsets, err := json.Marshal(p.AlertOffsetsDays)
	if err != nil {
		return err
	}
	timezone := p.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, alert_offsets_days, min_purchase_amount, timezone)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			alert_offsets_days = excluded.alert_offsets_days,
			min_purchase_amount = excluded.min_purchase_amount,
			timezone = excluded.timezone`,
		p.UserID, string(offsets), nullable(p.MinPurchaseAmount), timezone,
	)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return nil
}

func decodeOffsets(raw string) ([]int, error) {
	var offsets []int
	if err := json.Unmarshal([]byte(raw), &offsets); err != nil {
		return nil, fmt.Errorf("failed to decode alert offsets %q: %w", raw, err)
	}
	return offsets, nil
}

// MerchantPolicy operations

// SeedMerchantPolicies inserts the reference merchants, leaving rows that
// already exist untouched.
func (db *DB) SeedMerchantPolicies(ctx context.Context, policies []MerchantPolicy) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO merchant_policies (merchant_domain, merchant_name, default_return_window_days, notes, last_updated_at) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range policies {
		if _, err := stmt.ExecContext(ctx, strings.ToLower(p.Domain), p.MerchantName, p.ReturnWindowDays, p.Notes, now); err != nil {
			return fmt.Errorf("failed to seed merchant %s: %w", p.Domain, err)
		}
	}
	return tx.Commit()
}

// MerchantReturnWindow looks up the default return window for domain,
// walking up to its parent domains so that mail from a subdomain such as
// emailinfo.bestbuy.com matches bestbuy.com.
func (db *DB) MerchantReturnWindow(ctx context.Context, domain string) (int, bool, error) {
	for _, candidate := range domainCandidates(domain) {
		var days int
		err := db.conn.QueryRowContext(ctx,
			"SELECT default_return_window_days FROM merchant_policies WHERE merchant_domain = ?", candidate,
		).Scan(&days)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		return days, true, nil
	}
	return 0, false, nil
}

func domainCandidates(domain string) []string {
	domain = strings.Trim(strings.ToLower(domain), ". ")
	if domain == "" {
		return nil
	}
	labels := strings.Split(domain, ".")
	var out []string
	for i := 0; i < len(labels)-1 || i == 0; i++ {
		out = append(out, strings.Join(labels[i:], "."))
	}
	return out
}

func (db *DB) ListMerchantPolicies(ctx context.Context) ([]MerchantPolicy, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT merchant_domain, merchant_name, default_return_window_days, COALESCE(notes, '') FROM merchant_policies ORDER BY merchant_domain",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []MerchantPolicy
	for rows.Next() {
		var p MerchantPolicy
		if err := rows.Scan(&p.Domain, &p.MerchantName, &p.ReturnWindowDays, &p.Notes); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(dateLayout)
}

func parseDate(s sql.Null[string]) (*time.Time, error) {
	if !s.Valid || s.V == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s.V)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored date %q: %w", s.V, err)
	}
	return &t, nil
}
