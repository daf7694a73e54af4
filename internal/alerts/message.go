package alerts

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"return-radar-service/internal/db"
	"return-radar-service/internal/notify"
)

//go:embed templates/alert.html
var templateFS embed.FS

// Composer renders alert emails.
type Composer struct {
	tmpl    *template.Template
	appURL  string
	printer *message.Printer
}

type alertView struct {
	Merchant    string
	Items       string
	OrderID     string
	Amount      string
	Deadline    string
	DaysLeft    int
	DaysLabel   string
	Urgent      bool
	Color       string
	AppURL      string
	SettingsURL string
}

func NewComposer(appURL string) (*Composer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse alert template: %w", err)
	}
	return &Composer{
		tmpl:    tmpl,
		appURL:  strings.TrimRight(appURL, "/"),
		printer: message.NewPrinter(language.English),
	}, nil
}

// Compose builds the reminder for p. daysLeft is already clamped at zero.
func (c *Composer) Compose(to string, p db.Purchase, daysLeft int) (notify.Message, error) {
	view := alertView{
		Merchant:    merchantLabel(p),
		Items:       valueOr(p.Items, "Your order"),
		OrderID:     valueOr(p.OrderID, "N/A"),
		Amount:      c.FormatAmount(p.TotalAmount, p.Currency),
		Deadline:    "Unknown",
		DaysLeft:    daysLeft,
		DaysLabel:   dayLabel(daysLeft),
		Urgent:      daysLeft <= 1,
		Color:       "#f59e0b",
		AppURL:      c.appURL,
		SettingsURL: c.appURL + "/settings",
	}
	if p.ReturnDeadline != nil {
		view.Deadline = p.ReturnDeadline.Format("January 2, 2006")
	}
	if daysLeft <= 3 {
		view.Color = "#ef4444"
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, view); err != nil {
		return notify.Message{}, fmt.Errorf("failed to render alert: %w", err)
	}

	return notify.Message{
		To:      to,
		Subject: Subject(view.Merchant, daysLeft),
		HTML:    buf.String(),
	}, nil
}

// Subject is the alert subject line; one day or less left is urgent.
func Subject(merchant string, daysLeft int) string {
	prefix := "Reminder:"
	if daysLeft <= 1 {
		prefix = "URGENT:"
	}
	return fmt.Sprintf("%s Return deadline for %s, %d %s left", prefix, merchant, daysLeft, dayLabel(daysLeft))
}

// FormatAmount renders a total with its currency symbol and English digit
// grouping. Unknown currencies fall back to USD.
func (c *Composer) FormatAmount(total *float64, code *string) string {
	if total == nil || *total == 0 {
		return "Unknown amount"
	}
	unit := currency.USD
	if code != nil {
		if u, err := currency.ParseISO(*code); err == nil {
			unit = u
		}
	}
	return c.printer.Sprint(currency.Symbol(unit)) + c.printer.Sprintf("%.2f", *total)
}

func merchantLabel(p db.Purchase) string {
	if p.MerchantName != nil && *p.MerchantName != "" {
		return *p.MerchantName
	}
	if p.MerchantDomain != nil && *p.MerchantDomain != "" {
		return *p.MerchantDomain
	}
	return "your purchase"
}

func valueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func dayLabel(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}
