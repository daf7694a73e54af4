package db

import "time"

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	InboundAddress string    `json:"inbound_address"`
	CreatedAt      time.Time `json:"created_at"`
}

type Preferences struct {
	UserID            int64    `json:"user_id"`
	AlertOffsetsDays  []int    `json:"alert_offsets_days"`
	MinPurchaseAmount *float64 `json:"min_purchase_amount"`
	Timezone          string   `json:"timezone"`
}

type Email struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	FromAddress       string    `json:"from_address"`
	FromDomain        string    `json:"from_domain"`
	Subject           string    `json:"subject"`
	BodyExcerpt       string    `json:"body_excerpt"`
	Classification    string    `json:"classification"`
	ParsedStatus      string    `json:"parsed_status"`
	ReceivedAt        time.Time `json:"received_at"`
}

type Purchase struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	SourceEmailID    *int64     `json:"source_email_id,omitempty"`
	MerchantName     *string    `json:"merchant_name"`
	MerchantDomain   *string    `json:"merchant_domain"`
	OrderID          *string    `json:"order_id"`
	OrderDate        *time.Time `json:"order_date"`
	DeliveryDate     *time.Time `json:"delivery_date"`
	TotalAmount      *float64   `json:"total_amount"`
	Currency         *string    `json:"currency"`
	Items            *string    `json:"items"`
	ReturnWindowDays *int       `json:"return_window_days"`
	ReturnDeadline   *time.Time `json:"return_deadline"`
	PolicySource     string     `json:"policy_source"`
	Confidence       float64    `json:"confidence"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
}

type MerchantPolicy struct {
	Domain           string `json:"merchant_domain"`
	MerchantName     string `json:"merchant_name"`
	ReturnWindowDays int    `json:"default_return_window_days"`
	Notes            string `json:"notes,omitempty"`
}

type Alert struct {
	ID           int64      `json:"id"`
	PurchaseID   int64      `json:"purchase_id"`
	UserID       int64      `json:"user_id"`
	AlertType    string     `json:"alert_type"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at"`
	Channel      string     `json:"channel"`
	Status       string     `json:"status"`
}

// AlertCandidate is an active purchase with a known deadline together with
// what the alert engine needs to know about its owner.
type AlertCandidate struct {
	Purchase    Purchase
	UserEmail   string
	Preferences Preferences
}

// PurchaseUpdate carries a user action on a purchase. Nil fields are left
// unchanged.
type PurchaseUpdate struct {
	Status           *string
	ReturnWindowDays *int
}

const (
	ParsedPending = "pending"
	ParsedSuccess = "success"
	ParsedFailed  = "failed"
	ParsedSkipped = "skipped"
)

const (
	PurchaseActive   = "active"
	PurchaseReturned = "returned"
	PurchaseKeep     = "keep"
	PurchaseIgnore   = "ignore"
)

const (
	AlertPending = "pending"
	AlertSent    = "sent"
	AlertFailed  = "failed"
	AlertSkipped = "skipped"
)

const ChannelEmail = "email"

// DefaultAlertOffsets are the reminder offsets a new user starts with.
var DefaultAlertOffsets = []int{10, 3, 1}

// ValidPurchaseStatus reports whether s is a status a user may set.
func ValidPurchaseStatus(s string) bool {
	switch s {
	case PurchaseActive, PurchaseReturned, PurchaseKeep, PurchaseIgnore:
		return true
	}
	return false
}
