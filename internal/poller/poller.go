package poller

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"return-radar-service/internal/imap"
	"return-radar-service/internal/ingest"
)

// Mailbox is the part of the IMAP client the poller drives.
type Mailbox interface {
	FetchUnseen() ([]imap.FetchedEmail, error)
	MarkSeen(uids []uint32) error
}

// Handler ingests one message.
type Handler interface {
	Handle(ctx context.Context, msg ingest.Message) (ingest.Outcome, error)
}

// Result counts one poll.
type Result struct {
	Fetched int
	Handled int
	Errors  int
}

type Poller struct {
	mailbox  Mailbox
	handler  Handler
	interval time.Duration
	log      zerolog.Logger
}

func New(mailbox Mailbox, handler Handler, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		mailbox:  mailbox,
		handler:  handler,
		interval: interval,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.log.Info().Dur("interval", p.interval).Msg("starting poller")

	p.runOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	res, err := p.Poll(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("poll failed")
		return
	}
	if res.Fetched > 0 {
		p.log.Info().
			Int("fetched", res.Fetched).
			Int("handled", res.Handled).
			Int("errors", res.Errors).
			Msg("poll complete")
	}
}

// Poll ingests every unseen message. Messages that were handled, whatever
// their outcome, are flagged \Seen; a message whose handling failed stays
// unseen and is retried on the next poll.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	emails, err := p.mailbox.FetchUnseen()
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch unseen messages: %w", err)
	}

	res := Result{Fetched: len(emails)}
	var seen []uint32

	for _, email := range emails {
		if ctx.Err() != nil {
			break
		}

		out, err := p.handler.Handle(ctx, toMessage(email))
		if err != nil {
			res.Errors++
			p.log.Error().Err(err).Uint32("uid", email.UID).Str("subject", email.Subject).Msg("error handling message")
			continue
		}

		res.Handled++
		seen = append(seen, email.UID)
		p.log.Debug().
			Uint32("uid", email.UID).
			Str("status", string(out.Status)).
			Str("classification", out.Classification).
			Msg("message handled")
	}

	if err := p.mailbox.MarkSeen(seen); err != nil {
		return res, fmt.Errorf("failed to mark messages seen: %w", err)
	}

	return res, ctx.Err()
}

func toMessage(email imap.FetchedEmail) ingest.Message {
	msg := ingest.Message{
		Recipient:  email.To,
		Sender:     email.From,
		Subject:    email.Subject,
		BodyHTML:   email.BodyHTML,
		BodyText:   email.BodyText,
		MessageID:  email.MessageID,
		ReceivedAt: email.Date,
	}
	if !email.Date.IsZero() {
		msg.Timestamp = strconv.FormatInt(email.Date.Unix(), 10)
	}
	return msg
}
