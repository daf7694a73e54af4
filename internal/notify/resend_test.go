package notify

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResendClientSend(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"em_123"}`))
	}))
	defer srv.Close()

	c := NewResendClient(ResendConfig{APIKey: "re_test", BaseURL: srv.URL + "/", From: "alerts@returnradar.app"}, zerolog.Nop())
	err := c.Send(context.Background(), Message{To: "ann@example.com", Subject: "Return deadline", HTML: "<p>hi</p>"})
	require.NoError(t, err)

	assert.Equal(t, "alerts@returnradar.app", got.From)
	assert.Equal(t, []string{"ann@example.com"}, got.To)
	assert.Equal(t, "Return deadline", got.Subject)
	assert.Equal(t, "<p>hi</p>", got.HTML)
}

func TestResendClientRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"message":"The 'to' field is required.","name":"validation_error"}`))
	}))
	defer srv.Close()

	c := NewResendClient(ResendConfig{APIKey: "re_test", BaseURL: srv.URL}, zerolog.Nop())
	err := c.Send(context.Background(), Message{To: "", Subject: "x"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "validation_error")
}

func TestResendClientBreakerIgnoresClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewResendClient(ResendConfig{APIKey: "re_test", BaseURL: srv.URL}, zerolog.Nop())
	for i := 0; i < 8; i++ {
		err := c.Send(context.Background(), Message{To: "a@b.c", Subject: "x"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.EqualValues(t, 8, atomic.LoadInt32(&hits))
}

func TestResendClientBreakerOpensOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewResendClient(ResendConfig{APIKey: "re_test", BaseURL: srv.URL}, zerolog.Nop())
	for i := 0; i < 5; i++ {
		require.Error(t, c.Send(context.Background(), Message{To: "a@b.c", Subject: "x"}))
	}

	err := c.Send(context.Background(), Message{To: "a@b.c", Subject: "x"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 5, atomic.LoadInt32(&hits))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	require.NoError(t, n.Send(context.Background(), Message{To: "ann@example.com", Subject: "Return deadline"}))
	assert.Contains(t, buf.String(), `"to":"ann@example.com"`)
	assert.Contains(t, buf.String(), `"component":"notify"`)
}
