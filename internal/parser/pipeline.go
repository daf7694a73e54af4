package parser

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const (
	// fallbackConfidenceThreshold is the score below which the model
	// fallback is consulted even when the key fields were found.
	fallbackConfidenceThreshold = 0.7
	fallbackExcerptLimit        = 5000
)

// ErrNothingExtracted means neither the heuristics nor the fallback found
// any purchase data in a receipt email.
var ErrNothingExtracted = errors.New("no purchase data extracted")

// FallbackExtractor is the model-backed extractor consulted when the
// heuristics are weak. Any error is treated as "no fallback data".
type FallbackExtractor interface {
	ExtractFallback(ctx context.Context, excerpt string) (*Result, error)
}

// Email is the normalized input to the pipeline.
type Email struct {
	Subject     string
	BodyText    string
	FromAddress string
	ReceivedAt  time.Time
}

// Extraction is the pipeline output, ready to become a Purchase.
type Extraction struct {
	Result         Result
	OrderDate      *time.Time
	ReturnDeadline *time.Time
	UsedFallback   bool
}

type Pipeline struct {
	resolver *Resolver
	fallback FallbackExtractor
	log      zerolog.Logger
}

// NewPipeline builds the extraction pipeline. fallback may be nil, in which
// case only heuristic data is used.
func NewPipeline(resolver *Resolver, fallback FallbackExtractor, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		resolver: resolver,
		fallback: fallback,
		log:      log.With().Str("component", "parser").Logger(),
	}
}

// Process extracts purchase data from an email already classified as a
// receipt. Only lookup failures of the merchant policy source are returned
// as errors besides ErrNothingExtracted.
func (p *Pipeline) Process(ctx context.Context, email Email) (*Extraction, error) {
	result := ExtractHeuristic(email.Subject, email.BodyText, email.FromAddress)
	p.log.Debug().
		Float64("confidence", result.Confidence).
		Bool("has_total", result.TotalAmount != nil).
		Bool("has_order_date", result.OrderDate != nil).
		Msg("heuristic pass complete")

	usedFallback := false
	if p.fallback != nil && NeedsFallback(result) {
		fb, err := p.fallback.ExtractFallback(ctx, TruncateRunes(email.BodyText, fallbackExcerptLimit))
		if err != nil {
			p.log.Warn().Err(err).Msg("fallback extraction failed, continuing with heuristics")
		} else if fb != nil {
			result = Merge(result, fb)
			usedFallback = true
		}
	}

	if !result.hasPurchaseData() {
		return nil, ErrNothingExtracted
	}

	domain := ""
	if result.MerchantDomain != nil {
		domain = *result.MerchantDomain
	}
	resolution, err := p.resolver.Resolve(ctx, domain, result.ReturnWindowDays)
	if err != nil {
		return nil, err
	}
	resolution.Apply(&result)

	orderDate := resolveOrderDate(result.OrderDate, email.ReceivedAt)
	if result.OrderDate != nil && orderDate == nil {
		p.log.Debug().Str("order_date", *result.OrderDate).Msg("unparseable order date, deadline unknown")
	}

	return &Extraction{
		Result:         result,
		OrderDate:      orderDate,
		ReturnDeadline: ComputeDeadline(orderDate, nil, resolution.ReturnWindowDays),
		UsedFallback:   usedFallback,
	}, nil
}

// NeedsFallback reports whether the heuristic result is too weak to stand
// on its own.
func NeedsFallback(r Result) bool {
	return r.Confidence < fallbackConfidenceThreshold || r.OrderDate == nil || r.TotalAmount == nil
}

// resolveOrderDate parses the extracted date. When no date was extracted at
// all the email's received date stands in; an extracted but unparseable
// date yields nil.
func resolveOrderDate(raw *string, receivedAt time.Time) *time.Time {
	if raw == nil {
		if receivedAt.IsZero() {
			return nil
		}
		d := DateOf(receivedAt)
		return &d
	}
	if d, ok := ParseDate(*raw); ok {
		return &d
	}
	return nil
}
