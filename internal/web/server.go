package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"return-radar-service/internal/db"
	"return-radar-service/internal/ingest"
)

// Store is the persistence behind the HTTP API.
type Store interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, email, inboundAddress string) (*db.User, error)
	GetUser(ctx context.Context, id int64) (*db.User, error)
	GetPreferences(ctx context.Context, userID int64) (*db.Preferences, error)
	UpdatePreferences(ctx context.Context, p db.Preferences) error
	ListPurchases(ctx context.Context, userID int64) ([]db.Purchase, error)
	UpdatePurchase(ctx context.Context, id int64, upd db.PurchaseUpdate) (*db.Purchase, error)
	DeletePurchase(ctx context.Context, id int64) error
	ListAlerts(ctx context.Context, userID int64) ([]db.Alert, error)
	ListMerchantPolicies(ctx context.Context) ([]db.MerchantPolicy, error)
}

// Ingester handles one inbound email.
type Ingester interface {
	Handle(ctx context.Context, msg ingest.Message) (ingest.Outcome, error)
}

type Server struct {
	store         Store
	ingester      Ingester
	inboundDomain string
	port          int
	log           zerolog.Logger
	router        chi.Router
}

func NewServer(store Store, ingester Ingester, inboundDomain string, port int, log zerolog.Logger) *Server {
	s := &Server{
		store:         store,
		ingester:      ingester,
		inboundDomain: inboundDomain,
		port:          port,
		log:           log.With().Str("component", "web").Logger(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLog)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/emails/inbound", s.handleInbound)

		r.Post("/users", s.handleCreateUser)
		r.Get("/users/{id}", s.handleGetUser)
		r.Patch("/users/{id}/preferences", s.handleUpdatePreferences)

		r.Get("/purchases/{userID}", s.handleListPurchases)
		r.Patch("/purchases/{id}", s.handleUpdatePurchase)
		r.Delete("/purchases/{id}", s.handleDeletePurchase)

		r.Get("/alerts/{userID}", s.handleListAlerts)

		r.Get("/merchants", s.handleListMerchants)
	})

	return r
}

// ServeHTTP lets the server be mounted directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("starting web server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down web server: %w", err)
	}
	s.log.Info().Msg("web server stopped")
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// internalError logs err and answers 500 without leaking the cause.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}
