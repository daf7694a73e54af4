package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"return-radar-service/internal/alerts"
	"return-radar-service/internal/catalog"
	"return-radar-service/internal/classifier"
	"return-radar-service/internal/config"
	"return-radar-service/internal/db"
	"return-radar-service/internal/fallback"
	"return-radar-service/internal/imap"
	"return-radar-service/internal/ingest"
	"return-radar-service/internal/logging"
	"return-radar-service/internal/notify"
	"return-radar-service/internal/parser"
	"return-radar-service/internal/poller"
	"return-radar-service/internal/web"
)

// Set at build time via -ldflags
var (
	Version   = "dev"
	CommitSHA = "unknown"
)

func main() {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("version", Version).Str("commit", CommitSHA).Msg("starting ReturnRadar")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service failed")
	}
	log.Info().Msg("goodbye")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	log.Info().Str("path", cfg.DBPath).Msg("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.SeedMerchantPolicies(ctx, merchantPolicies(cat.Merchants())); err != nil {
		return err
	}

	pipeline, err := newPipeline(cfg, database, log)
	if err != nil {
		return err
	}
	ingestService := ingest.NewService(database, classifier.New(cat.Keywords()), pipeline, log)

	engine, err := newAlertEngine(cfg, database, log)
	if err != nil {
		return err
	}

	guard, closeGuard, err := newRunGuard(cfg, log)
	if err != nil {
		return err
	}
	defer closeGuard()
	scheduler := alerts.NewScheduler(engine, guard, cfg.AlertHour, log)

	webServer := web.NewServer(database, ingestService, cfg.InboundDomain, cfg.WebPort, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	if cfg.IMAPEnabled() {
		imapClient := imap.NewClient(cfg.IMAPServer, cfg.IMAPPort, cfg.IMAPEmail, cfg.IMAPPassword, cfg.IMAPFolder, log)
		emailPoller := poller.New(imapClient, ingestService, cfg.PollInterval, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			emailPoller.Start(ctx)
		}()
		log.Info().Str("server", cfg.IMAPServer).Str("folder", imapClient.Folder()).Msg("mailbox polling enabled")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("web server error")
			cancel()
		}
	}()

	log.Info().Int("port", cfg.WebPort).Msg("service started")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	return nil
}

func merchantPolicies(merchants []catalog.Merchant) []db.MerchantPolicy {
	policies := make([]db.MerchantPolicy, 0, len(merchants))
	for _, m := range merchants {
		policies = append(policies, db.MerchantPolicy{
			Domain:           m.Domain,
			MerchantName:     m.Name,
			ReturnWindowDays: m.ReturnWindowDays,
			Notes:            m.Notes,
		})
	}
	return policies
}

// newPipeline wires the model fallback only when an API key is configured.
func newPipeline(cfg *config.Config, database *db.DB, log zerolog.Logger) (*parser.Pipeline, error) {
	resolver := parser.NewResolver(database)

	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, fallback extraction disabled")
		return parser.NewPipeline(resolver, nil, log), nil
	}

	client := fallback.NewOpenAIClient(fallback.OpenAIConfig{
		APIKey:            cfg.OpenAIAPIKey,
		BaseURL:           cfg.OpenAIBaseURL,
		Model:             cfg.LLMModel,
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	}, log)
	extractor, err := fallback.New(client, log)
	if err != nil {
		return nil, err
	}
	return parser.NewPipeline(resolver, extractor, log), nil
}

func newAlertEngine(cfg *config.Config, database *db.DB, log zerolog.Logger) (*alerts.Engine, error) {
	var notifier notify.Notifier
	if cfg.ResendAPIKey != "" {
		notifier = notify.NewResendClient(notify.ResendConfig{
			APIKey:  cfg.ResendAPIKey,
			BaseURL: cfg.ResendBaseURL,
			From:    cfg.FromEmail,
		}, log)
	} else {
		log.Warn().Msg("RESEND_API_KEY not set, alerts will only be logged")
		notifier = notify.NewLogNotifier(log)
	}

	composer, err := alerts.NewComposer(cfg.AppURL)
	if err != nil {
		return nil, err
	}
	return alerts.NewEngine(database, notifier, composer, log), nil
}

// newRunGuard returns the Redis day guard when REDIS_URL is set.
func newRunGuard(cfg *config.Config, log zerolog.Logger) (alerts.RunGuard, func(), error) {
	if cfg.RedisURL == "" {
		return alerts.LocalGuard{}, func() {}, nil
	}

	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s:%d", host, os.Getpid())
	guard, client, err := alerts.NewRedisGuardFromURL(cfg.RedisURL, owner)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("owner", owner).Msg("alert runs guarded by redis")
	return guard, func() { _ = client.Close() }, nil
}
