// Package fallback asks a language model for the receipt fields the regex
// pass could not find. Its output only ever fills gaps.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/currency"

	"return-radar-service/internal/parser"
)

const extractPrompt = `You are a receipt parser. Extract purchase information from the email below.

Return ONLY valid JSON matching this exact schema:
{
  "merchant_name": string or null,
  "order_date": "YYYY-MM-DD" or null,
  "total_amount": number or null,
  "currency": "USD" or other 3-letter code or null,
  "order_id": string or null,
  "return_window_days": integer or null (ONLY if explicitly stated in the email, never inferred),
  "items": string description of items or null,
  "confidence": float between 0.0 and 1.0
}

Rules:
- return_window_days must be null unless the email explicitly mentions a return period in days
- Do not infer return_window_days from typical merchant policies
- confidence is how certain you are about the extracted fields (0.5 uncertain, 0.9 high)
- Return only the JSON object, no other text

Email:
`

const resultSchemaURL = "https://returnradar.local/schemas/fallback-result.json"

const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "merchant_name": {"type": ["string", "null"]},
    "order_date": {"type": ["string", "null"]},
    "total_amount": {"type": ["number", "null"], "minimum": 0},
    "currency": {"type": ["string", "null"]},
    "order_id": {"type": ["string", "null"]},
    "return_window_days": {"type": ["integer", "null"], "minimum": 0, "maximum": 3650},
    "items": {"type": ["string", "null"]},
    "confidence": {"type": ["number", "null"], "minimum": 0, "maximum": 1}
  }
}`

var (
	leadingFence  = regexp.MustCompile("^```(?:json)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
)

// ErrEmptyCompletion is returned when the model answers with no content.
var ErrEmptyCompletion = errors.New("empty completion")

// Completer sends a single prompt to a language model and returns its text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Extractor struct {
	completer Completer
	schema    *jsonschema.Schema
	log       zerolog.Logger
}

// modelResult mirrors the JSON object the prompt asks for.
type modelResult struct {
	MerchantName     *string  `json:"merchant_name"`
	OrderDate        *string  `json:"order_date"`
	TotalAmount      *float64 `json:"total_amount"`
	Currency         *string  `json:"currency"`
	OrderID          *string  `json:"order_id"`
	ReturnWindowDays *float64 `json:"return_window_days"`
	Items            *string  `json:"items"`
	Confidence       *float64 `json:"confidence"`
}

func New(completer Completer, log zerolog.Logger) (*Extractor, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(resultSchemaURL, strings.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("failed to load fallback schema: %w", err)
	}
	schema, err := c.Compile(resultSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile fallback schema: %w", err)
	}

	return &Extractor{
		completer: completer,
		schema:    schema,
		log:       log.With().Str("component", "fallback").Logger(),
	}, nil
}

// ExtractFallback implements parser.FallbackExtractor.
func (e *Extractor) ExtractFallback(ctx context.Context, excerpt string) (*parser.Result, error) {
	content, err := e.completer.Complete(ctx, extractPrompt+excerpt)
	if err != nil {
		return nil, fmt.Errorf("failed to complete extraction prompt: %w", err)
	}

	result, err := e.decode(content)
	if err != nil {
		e.log.Debug().Err(err).Msg("discarding model output")
		return nil, err
	}
	return result, nil
}

func (e *Extractor) decode(content string) (*parser.Result, error) {
	body := []byte(StripFences(content))
	if len(body) == 0 {
		return nil, ErrEmptyCompletion
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse model output: %w", err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("model output failed schema validation: %w", err)
	}

	var raw modelResult
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode model output: %w", err)
	}
	return raw.toResult(), nil
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func (m modelResult) toResult() *parser.Result {
	r := &parser.Result{
		MerchantName: nonEmpty(m.MerchantName),
		OrderDate:    nonEmpty(m.OrderDate),
		TotalAmount:  m.TotalAmount,
		Currency:     isoCurrency(m.Currency),
		OrderID:      nonEmpty(m.OrderID),
		Items:        nonEmpty(m.Items),
	}
	if m.ReturnWindowDays != nil {
		days := int(*m.ReturnWindowDays)
		r.ReturnWindowDays = &days
	}
	if m.Confidence != nil {
		r.Confidence = *m.Confidence
	}
	return r
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// isoCurrency keeps only recognised ISO 4217 codes.
func isoCurrency(s *string) *string {
	v := nonEmpty(s)
	if v == nil {
		return nil
	}
	unit, err := currency.ParseISO(strings.ToUpper(*v))
	if err != nil {
		return nil
	}
	code := unit.String()
	return &code
}
