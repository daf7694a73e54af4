package imap

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"
)

// FetchedEmail is a full message with its decoded bodies.
type FetchedEmail struct {
	UID            uint32
	MessageID      string
	From           string
	To             string
	Subject        string
	Date           time.Time
	BodyText       string
	BodyHTML       string
	HasAttachments bool
}

// Client wraps the mailbox operations used for receipt ingestion. Each call
// opens its own connection.
type Client struct {
	server   string
	port     int
	email    string
	password string
	folder   string
	log      zerolog.Logger
}

func NewClient(server string, port int, email, password, folder string, log zerolog.Logger) *Client {
	if folder == "" {
		folder = "INBOX"
	}
	return &Client{
		server:   server,
		port:     port,
		email:    email,
		password: password,
		folder:   folder,
		log:      log.With().Str("component", "imap").Logger(),
	}
}

// Folder is the mailbox the client reads from.
func (c *Client) Folder() string {
	return c.folder
}

func (c *Client) connect() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.server, c.port)

	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName: c.server,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.Login(c.email, c.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return client, nil
}

// FetchUnseen returns every message in the folder that has not been flagged
// \Seen, with full bodies. Fetching uses BODY.PEEK so the flags are left
// untouched until MarkSeen.
func (c *Client) FetchUnseen() ([]FetchedEmail, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	return c.fetchFull(client, imap.UIDSetNum(uids...))
}

// FetchRecent returns the count most recent messages with full bodies.
func (c *Client) FetchRecent(count int) ([]FetchedEmail, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	mbox, err := client.Select(c.folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}

	if mbox.NumMessages == 0 || count <= 0 {
		return nil, nil
	}

	start := uint32(1)
	if mbox.NumMessages > uint32(count) {
		start = mbox.NumMessages - uint32(count) + 1
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(start, mbox.NumMessages)

	return c.fetchFull(client, seqSet)
}

func (c *Client) fetchFull(client *imapclient.Client, numSet imap.NumSet) ([]FetchedEmail, error) {
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}

	fetchCmd := client.Fetch(numSet, fetchOptions)

	var emails []FetchedEmail
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		msgData, err := msg.Collect()
		if err != nil {
			c.log.Warn().Err(err).Msg("error collecting message")
			continue
		}

		var email FetchedEmail
		for _, section := range msgData.BodySection {
			if len(section.Bytes) == 0 {
				continue
			}
			parsed, parseErr := ParseMessage(section.Bytes)
			if parseErr != nil {
				c.log.Warn().Err(parseErr).Uint32("uid", uint32(msgData.UID)).Msg("error parsing message")
				continue
			}
			email = *parsed
			break
		}

		email.UID = uint32(msgData.UID)
		applyEnvelope(&email, msgData.Envelope)
		emails = append(emails, email)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	return emails, nil
}

// MarkSeen flags the given messages \Seen.
func (c *Client) MarkSeen(uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}

	imapUIDs := make([]imap.UID, len(uids))
	for i, uid := range uids {
		imapUIDs[i] = imap.UID(uid)
	}

	storeCmd := client.Store(imap.UIDSetNum(imapUIDs...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Flags:  []imap.Flag{imap.FlagSeen},
		Silent: true,
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("failed to mark as seen: %w", err)
	}

	return nil
}

// applyEnvelope prefers the server's envelope over the parsed headers.
func applyEnvelope(email *FetchedEmail, env *imap.Envelope) {
	if env == nil {
		return
	}
	if env.MessageID != "" {
		email.MessageID = env.MessageID
	}
	if env.Subject != "" {
		email.Subject = env.Subject
	}
	if !env.Date.IsZero() {
		email.Date = env.Date
	}
	if len(env.From) > 0 {
		email.From = strings.ToLower(env.From[0].Addr())
	}
	if len(env.To) > 0 {
		tos := make([]string, 0, len(env.To))
		for _, to := range env.To {
			tos = append(tos, to.Addr())
		}
		email.To = strings.Join(tos, ", ")
	}
}

// ParseMessage decodes a raw RFC 5322 message. The first text/plain and
// text/html inline parts become the bodies; anything sent as an attachment
// only sets HasAttachments. Unknown charsets are tolerated.
func ParseMessage(raw []byte) (*FetchedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	email := &FetchedEmail{}
	h := mr.Header
	email.Subject, _ = h.Subject()
	email.MessageID, _ = h.MessageID()
	email.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		email.From = strings.ToLower(from[0].Address)
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		tos := make([]string, 0, len(to))
		for _, a := range to {
			tos = append(tos, a.Address)
		}
		email.To = strings.Join(tos, ", ")
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return email, fmt.Errorf("failed to read part: %w", err)
		}
		if part == nil {
			continue
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := ph.ContentType()
			if mediaType == "" {
				mediaType = "text/plain"
			}
			switch {
			case mediaType == "text/plain" && email.BodyText == "":
				body, _ := io.ReadAll(part.Body)
				email.BodyText = string(body)
			case mediaType == "text/html" && email.BodyHTML == "":
				body, _ := io.ReadAll(part.Body)
				email.BodyHTML = string(body)
			case !strings.HasPrefix(mediaType, "text/"):
				email.HasAttachments = true
			}
		case *mail.AttachmentHeader:
			email.HasAttachments = true
		}
	}

	return email, nil
}
