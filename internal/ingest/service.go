// Package ingest turns one inbound email into stored state: user
// resolution, message dedup, classification, extraction and the purchase
// record. Every terminal state is reported as an Outcome, never an error.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"return-radar-service/internal/classifier"
	"return-radar-service/internal/db"
	"return-radar-service/internal/parser"
)

const bodyExcerptLimit = 6000

type Status string

const (
	StatusOK                Status = "ok"
	StatusDuplicate         Status = "duplicate"
	StatusDuplicatePurchase Status = "duplicate_purchase"
	StatusSkipped           Status = "skipped"
	StatusParseFailed       Status = "parse_failed"
	StatusIgnored           Status = "ignored"
)

// Message is an inbound email normalized from whichever transport
// delivered it.
type Message struct {
	Recipient  string
	Sender     string
	Subject    string
	BodyHTML   string
	BodyText   string
	MessageID  string
	Timestamp  string
	ReceivedAt time.Time
}

type Outcome struct {
	Status         Status  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	Classification string  `json:"classification,omitempty"`
	PurchaseID     int64   `json:"purchase_id,omitempty"`
	Merchant       string  `json:"merchant,omitempty"`
	Deadline       string  `json:"deadline,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
}

// Store is the persistence the service needs.
type Store interface {
	ResolveRecipient(ctx context.Context, recipient string) (*db.User, error)
	EmailSeen(ctx context.Context, userID int64, messageID string) (bool, error)
	InsertEmail(ctx context.Context, e *db.Email) error
	SetEmailParsedStatus(ctx context.Context, emailID int64, status string) error
	SavePurchase(ctx context.Context, p *db.Purchase) error
}

// Extractor runs the extraction pipeline on a receipt.
type Extractor interface {
	Process(ctx context.Context, email parser.Email) (*parser.Extraction, error)
}

type Service struct {
	store      Store
	classifier *classifier.Classifier
	extractor  Extractor
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(store Store, c *classifier.Classifier, extractor Extractor, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		classifier: c,
		extractor:  extractor,
		log:        log.With().Str("component", "ingest").Logger(),
		now:        time.Now,
	}
}

// Handle processes one inbound message. Only storage failures are returned
// as errors.
func (s *Service) Handle(ctx context.Context, msg Message) (Outcome, error) {
	user, err := s.resolveUser(ctx, msg.Recipient)
	if err != nil {
		return Outcome{}, err
	}
	if user == nil {
		s.log.Info().Str("recipient", msg.Recipient).Msg("no user for recipient")
		return Outcome{Status: StatusIgnored, Reason: "no user found for recipient"}, nil
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	messageID := strings.TrimSpace(msg.MessageID)
	if messageID == "" {
		timestamp := msg.Timestamp
		if timestamp == "" {
			timestamp = strconv.FormatInt(receivedAt.Unix(), 10)
		}
		messageID = MessageID(msg.Sender, msg.Subject, timestamp)
	}

	log := s.log.With().Int64("user_id", user.ID).Str("message_id", messageID).Logger()

	seen, err := s.store.EmailSeen(ctx, user.ID, messageID)
	if err != nil {
		return Outcome{}, err
	}
	if seen {
		log.Debug().Msg("duplicate message")
		return Outcome{Status: StatusDuplicate}, nil
	}

	bodyText := parser.NormalizeBody(msg.BodyHTML, msg.BodyText)
	fromDomain := parser.SenderDomain(msg.Sender)
	label := s.classifier.Classify(msg.Subject, bodyText, fromDomain)

	email := &db.Email{
		UserID:            user.ID,
		ProviderMessageID: messageID,
		FromAddress:       msg.Sender,
		FromDomain:        fromDomain,
		Subject:           msg.Subject,
		BodyExcerpt:       parser.TruncateRunes(bodyText, bodyExcerptLimit),
		Classification:    string(label),
		ParsedStatus:      db.ParsedPending,
		ReceivedAt:        receivedAt,
	}
	if label != classifier.LabelReceipt {
		email.ParsedStatus = db.ParsedSkipped
	}
	if err := s.store.InsertEmail(ctx, email); err != nil {
		if errors.Is(err, db.ErrDuplicateEmail) {
			log.Debug().Msg("duplicate message")
			return Outcome{Status: StatusDuplicate}, nil
		}
		return Outcome{}, err
	}

	if label != classifier.LabelReceipt {
		log.Debug().Str("classification", string(label)).Msg("not a receipt")
		return Outcome{Status: StatusSkipped, Classification: string(label)}, nil
	}

	extraction, err := s.extractor.Process(ctx, parser.Email{
		Subject:     msg.Subject,
		BodyText:    bodyText,
		FromAddress: msg.Sender,
		ReceivedAt:  receivedAt,
	})
	if errors.Is(err, parser.ErrNothingExtracted) {
		if err := s.store.SetEmailParsedStatus(ctx, email.ID, db.ParsedFailed); err != nil {
			return Outcome{}, err
		}
		log.Info().Msg("receipt parse failed")
		return Outcome{Status: StatusParseFailed}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to extract purchase: %w", err)
	}

	purchase := toPurchase(user.ID, email.ID, extraction)
	if err := s.store.SavePurchase(ctx, purchase); err != nil {
		if errors.Is(err, db.ErrDuplicatePurchase) {
			log.Info().Msg("duplicate purchase")
			return Outcome{Status: StatusDuplicatePurchase}, nil
		}
		return Outcome{}, err
	}

	out := Outcome{
		Status:     StatusOK,
		PurchaseID: purchase.ID,
		Confidence: purchase.Confidence,
	}
	if purchase.MerchantName != nil {
		out.Merchant = *purchase.MerchantName
	}
	if purchase.ReturnDeadline != nil {
		out.Deadline = purchase.ReturnDeadline.Format("2006-01-02")
	}
	log.Info().
		Int64("purchase_id", purchase.ID).
		Str("merchant", out.Merchant).
		Str("deadline", out.Deadline).
		Str("policy_source", purchase.PolicySource).
		Bool("used_fallback", extraction.UsedFallback).
		Msg("purchase recorded")
	return out, nil
}

// resolveUser tries every address in a recipient header.
func (s *Service) resolveUser(ctx context.Context, recipient string) (*db.User, error) {
	addrs := []string{recipient}
	if list, err := mail.ParseAddressList(recipient); err == nil && len(list) > 0 {
		addrs = addrs[:0]
		for _, a := range list {
			addrs = append(addrs, a.Address)
		}
	}

	for _, addr := range addrs {
		u, err := s.store.ResolveRecipient(ctx, addr)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return u, nil
		}
	}
	return nil, nil
}

func toPurchase(userID, emailID int64, ext *parser.Extraction) *db.Purchase {
	r := ext.Result
	return &db.Purchase{
		UserID:           userID,
		SourceEmailID:    &emailID,
		MerchantName:     r.MerchantName,
		MerchantDomain:   r.MerchantDomain,
		OrderID:          r.OrderID,
		OrderDate:        ext.OrderDate,
		TotalAmount:      r.TotalAmount,
		Currency:         r.Currency,
		Items:            r.Items,
		ReturnWindowDays: r.ReturnWindowDays,
		ReturnDeadline:   ext.ReturnDeadline,
		PolicySource:     string(r.PolicySource),
		Confidence:       math.Round(r.Confidence*100) / 100,
		Status:           db.PurchaseActive,
	}
}

// MessageID derives a stable id for messages that arrive without one.
func MessageID(sender, subject, timestamp string) string {
	sum := sha256.Sum256([]byte(sender + "|" + subject + "|" + timestamp))
	return hex.EncodeToString(sum[:])[:40]
}
