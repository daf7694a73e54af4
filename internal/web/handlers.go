package web

import (
	"bufio"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"return-radar-service/internal/db"
	"return-radar-service/internal/ingest"
)

const (
	maxFormMemory = 10 << 20
	maxSlugLength = 12
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "returnradar"})
}

// handleInbound accepts the inbound-parse POST of either Mailgun or
// SendGrid. Both send form data with slightly different field names.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	form, err := readInboundFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid inbound payload")
		return
	}

	msg := normalizeInbound(form)
	out, err := s.ingester.Handle(r.Context(), msg)
	if err != nil {
		s.internalError(w, r, err, "failed to process inbound email")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type fieldGetter func(key string) string

func readInboundFields(r *http.Request) (fieldGetter, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, err
		}
		return func(key string) string {
			if v, ok := body[key].(string); ok {
				return v
			}
			return ""
		}, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return nil, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
	}
	return r.PostFormValue, nil
}

func normalizeInbound(get fieldGetter) ingest.Message {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(get(k)); v != "" {
				return v
			}
		}
		return ""
	}

	messageID := first("Message-Id", "message-id", "Message-ID")
	if messageID == "" {
		messageID = headerMessageID(get("headers"))
	}

	return ingest.Message{
		Recipient: first("recipient", "to"),
		Sender:    first("sender", "from"),
		Subject:   first("subject"),
		BodyHTML:  first("body-html", "html"),
		BodyText:  first("body-plain", "text"),
		MessageID: messageID,
		Timestamp: first("timestamp"),
	}
}

// headerMessageID pulls the Message-ID out of a raw header block as SendGrid
// posts it.
func headerMessageID(headers string) string {
	sc := bufio.NewScanner(strings.NewReader(headers))
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Message-Id") {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type createUserRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "a valid email is required")
		return
	}

	inbound := InboundAddress(addr.Address, uuid.NewString(), s.inboundDomain)
	user, err := s.store.CreateUser(r.Context(), addr.Address, inbound)
	if errors.Is(err, db.ErrDuplicateUser) {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "failed to create user")
		return
	}

	s.log.Info().Int64("user_id", user.ID).Str("inbound_address", user.InboundAddress).Msg("user created")
	writeJSON(w, http.StatusCreated, user)
}

// InboundAddress builds a user's private forwarding address: up to twelve
// characters of the local part without dots, then eight characters of id.
func InboundAddress(email, id, domain string) string {
	local, _, _ := strings.Cut(strings.ToLower(email), "@")
	slug := []rune(strings.ReplaceAll(local, ".", ""))
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s%s@%s", string(slug), id, domain)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err, "failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type preferencesRequest struct {
	AlertOffsetsDays  []int    `json:"alert_offsets_days"`
	MinPurchaseAmount *float64 `json:"min_purchase_amount"`
	Timezone          *string  `json:"timezone"`
}

// handleUpdatePreferences applies only the fields present in the body.
func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	prefs, err := s.store.GetPreferences(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err, "failed to load preferences")
		return
	}
	if prefs == nil {
		prefs = &db.Preferences{UserID: id, AlertOffsetsDays: db.DefaultAlertOffsets, Timezone: "UTC"}
	}
	if req.AlertOffsetsDays != nil {
		prefs.AlertOffsetsDays = req.AlertOffsetsDays
	}
	if req.MinPurchaseAmount != nil {
		prefs.MinPurchaseAmount = req.MinPurchaseAmount
	}
	if req.Timezone != nil {
		prefs.Timezone = *req.Timezone
	}

	err = s.store.UpdatePreferences(r.Context(), *prefs)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (req preferencesRequest) validate() string {
	for _, d := range req.AlertOffsetsDays {
		if d < 0 {
			return "alert offsets must not be negative"
		}
	}
	if req.MinPurchaseAmount != nil && *req.MinPurchaseAmount < 0 {
		return "min_purchase_amount must not be negative"
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return "unknown timezone"
		}
	}
	return ""
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	purchases, err := s.store.ListPurchases(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, err, "failed to list purchases")
		return
	}
	if purchases == nil {
		purchases = []db.Purchase{}
	}
	writeJSON(w, http.StatusOK, purchases)
}

type purchaseRequest struct {
	Status           *string `json:"status"`
	ReturnWindowDays *int    `json:"return_window_days"`
}

func (s *Server) handleUpdatePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := s.store.UpdatePurchase(r.Context(), id, db.PurchaseUpdate{
		Status:           req.Status,
		ReturnWindowDays: req.ReturnWindowDays,
	})
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "purchase not found")
		return
	case errors.Is(err, db.ErrInvalidUpdate):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.internalError(w, r, err, "failed to update purchase")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	err := s.store.DeletePurchase(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "purchase not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "failed to delete purchase")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	alerts, err := s.store.ListAlerts(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, err, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []db.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleListMerchants(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListMerchantPolicies(r.Context())
	if err != nil {
		s.internalError(w, r, err, "failed to list merchants")
		return
	}
	if policies == nil {
		policies = []db.MerchantPolicy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}
