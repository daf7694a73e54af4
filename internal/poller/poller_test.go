package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"return-radar-service/internal/imap"
	"return-radar-service/internal/ingest"
)

type fakeMailbox struct {
	emails   []imap.FetchedEmail
	fetchErr error
	markErr  error
	marked   [][]uint32
}

func (m *fakeMailbox) FetchUnseen() ([]imap.FetchedEmail, error) {
	return m.emails, m.fetchErr
}

func (m *fakeMailbox) MarkSeen(uids []uint32) error {
	m.marked = append(m.marked, uids)
	return m.markErr
}

type fakeHandler struct {
	failUID  map[string]bool
	received []ingest.Message
	cancel   context.CancelFunc
}

func (h *fakeHandler) Handle(_ context.Context, msg ingest.Message) (ingest.Outcome, error) {
	h.received = append(h.received, msg)
	if h.cancel != nil {
		h.cancel()
	}
	if h.failUID[msg.Subject] {
		return ingest.Outcome{}, errors.New("database is locked")
	}
	return ingest.Outcome{Status: ingest.StatusOK}, nil
}

func TestPollHandlesAndMarksSeen(t *testing.T) {
	sent := time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC)
	mailbox := &fakeMailbox{emails: []imap.FetchedEmail{
		{UID: 7, To: "jane@inbox.returnradar.app", From: "orders@target.com", Subject: "receipt", MessageID: "m1", BodyText: "Total $5", Date: sent},
		{UID: 9, To: "jane@inbox.returnradar.app", From: "news@target.com", Subject: "sale"},
	}}
	handler := &fakeHandler{}
	p := New(mailbox, handler, time.Minute, zerolog.Nop())

	res, err := p.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Fetched: 2, Handled: 2}, res)
	require.Len(t, mailbox.marked, 1)
	assert.Equal(t, []uint32{7, 9}, mailbox.marked[0])

	require.Len(t, handler.received, 2)
	first := handler.received[0]
	assert.Equal(t, "jane@inbox.returnradar.app", first.Recipient)
	assert.Equal(t, "orders@target.com", first.Sender)
	assert.Equal(t, "m1", first.MessageID)
	assert.Equal(t, "Total $5", first.BodyText)
	assert.Equal(t, sent, first.ReceivedAt)
	assert.Equal(t, "1772704800", first.Timestamp)

	assert.Empty(t, handler.received[1].Timestamp)
}

func TestPollLeavesFailedMessagesUnseen(t *testing.T) {
	mailbox := &fakeMailbox{emails: []imap.FetchedEmail{
		{UID: 1, Subject: "ok"},
		{UID: 2, Subject: "broken"},
		{UID: 3, Subject: "ok too"},
	}}
	handler := &fakeHandler{failUID: map[string]bool{"broken": true}}
	p := New(mailbox, handler, time.Minute, zerolog.Nop())

	res, err := p.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Fetched: 3, Handled: 2, Errors: 1}, res)
	assert.Equal(t, []uint32{1, 3}, mailbox.marked[0])
}

func TestPollFetchError(t *testing.T) {
	mailbox := &fakeMailbox{fetchErr: errors.New("failed to login")}
	p := New(mailbox, &fakeHandler{}, time.Minute, zerolog.Nop())

	_, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to login")
	assert.Empty(t, mailbox.marked)
}

func TestPollMarkSeenError(t *testing.T) {
	mailbox := &fakeMailbox{
		emails:  []imap.FetchedEmail{{UID: 4}},
		markErr: errors.New("connection reset"),
	}
	p := New(mailbox, &fakeHandler{}, time.Minute, zerolog.Nop())

	res, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, res.Handled)
}

func TestPollStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailbox := &fakeMailbox{emails: []imap.FetchedEmail{{UID: 1}, {UID: 2}, {UID: 3}}}
	handler := &fakeHandler{cancel: cancel}
	p := New(mailbox, handler, time.Minute, zerolog.Nop())

	res, err := p.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Handled)
	assert.Len(t, handler.received, 1)
	assert.Equal(t, []uint32{1}, mailbox.marked[0])
}

func TestStartReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mailbox := &fakeMailbox{}
	p := New(mailbox, &fakeHandler{}, time.Hour, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
