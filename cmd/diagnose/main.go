package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"return-radar-service/internal/catalog"
	"return-radar-service/internal/classifier"
	"return-radar-service/internal/config"
	"return-radar-service/internal/imap"
	"return-radar-service/internal/parser"
)

// diagnose dry-runs classification and heuristic extraction against the
// most recent messages of the configured mailbox. Nothing is written.
func main() {
	count := flag.Int("n", 20, "number of recent messages to inspect")
	flag.Parse()

	_ = godotenv.Load()

	fmt.Println("=== ReturnRadar Mailbox Diagnostics ===")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IMAPEnabled() {
		log.Fatal("IMAP_EMAIL is not set")
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	cls := classifier.New(cat.Keywords())

	client := imap.NewClient(cfg.IMAPServer, cfg.IMAPPort, cfg.IMAPEmail, cfg.IMAPPassword, cfg.IMAPFolder, zerolog.Nop())
	fmt.Printf("Connecting to %s:%d as %s, folder %s...\n", cfg.IMAPServer, cfg.IMAPPort, cfg.IMAPEmail, client.Folder())

	emails, err := client.FetchRecent(*count)
	if err != nil {
		log.Fatalf("Failed to fetch messages: %v", err)
	}
	if len(emails) == 0 {
		fmt.Println("Folder is empty.")
		return
	}

	counts := map[classifier.Label]int{}
	for i, email := range emails {
		body := parser.NormalizeBody(email.BodyHTML, email.BodyText)
		label := cls.Classify(email.Subject, body, parser.SenderDomain(email.From))
		counts[label]++

		fmt.Printf("\n[%d] UID %d  %s\n", i+1, email.UID, email.Date.Format("2006-01-02 15:04"))
		fmt.Printf("    From:    %s\n", email.From)
		fmt.Printf("    Subject: %s\n", email.Subject)
		fmt.Printf("    Class:   %s\n", label)

		if label != classifier.LabelReceipt {
			continue
		}

		r := parser.ExtractHeuristic(email.Subject, body, email.From)
		fmt.Printf("    Merchant: %s (%s)\n", deref(r.MerchantName), deref(r.MerchantDomain))
		fmt.Printf("    Order:    %s on %s\n", deref(r.OrderID), deref(r.OrderDate))
		if r.TotalAmount != nil {
			fmt.Printf("    Total:    %.2f %s\n", *r.TotalAmount, deref(r.Currency))
		}
		if r.ReturnWindowDays != nil {
			fmt.Printf("    Window:   %d days (stated in email)\n", *r.ReturnWindowDays)
		}
		fmt.Printf("    Confidence: %.2f  fallback needed: %v\n", r.Confidence, parser.NeedsFallback(r))
	}

	fmt.Println("\n=== Summary ===")
	labels := make([]string, 0, len(counts))
	for label, n := range counts {
		labels = append(labels, fmt.Sprintf("%s=%d", label, n))
	}
	fmt.Printf("%d messages: %s\n", len(emails), strings.Join(labels, " "))
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
