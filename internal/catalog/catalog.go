// Package catalog holds the reference data the pipeline reads but never
// mutates: classifier keyword lists and the merchant return-policy seed list.
// A Catalog is loaded once at startup and handed to the components that need
// it; accessors return copies so callers cannot patch it at runtime.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Keywords are lower-case substrings matched by the classifier.
type Keywords struct {
	ShippingSubject []string `yaml:"shipping_subject"`
	ReceiptSubject  []string `yaml:"receipt_subject"`
	ReceiptBody     []string `yaml:"receipt_body"`
}

// Merchant is one seed row for the merchant policy table.
type Merchant struct {
	Domain           string `yaml:"domain"`
	Name             string `yaml:"name"`
	ReturnWindowDays int    `yaml:"return_window_days"`
	Notes            string `yaml:"notes"`
}

type document struct {
	Keywords  Keywords   `yaml:"keywords"`
	Merchants []Merchant `yaml:"merchants"`
}

type Catalog struct {
	keywords  Keywords
	merchants []Merchant
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded defaults are invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path, or returns Default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	kw := Keywords{
		ShippingSubject: normalize(doc.Keywords.ShippingSubject),
		ReceiptSubject:  normalize(doc.Keywords.ReceiptSubject),
		ReceiptBody:     normalize(doc.Keywords.ReceiptBody),
	}
	if len(kw.ReceiptSubject) == 0 && len(kw.ReceiptBody) == 0 {
		return nil, fmt.Errorf("catalog defines no receipt keywords")
	}

	seen := make(map[string]bool, len(doc.Merchants))
	merchants := make([]Merchant, 0, len(doc.Merchants))
	for _, m := range doc.Merchants {
		m.Domain = strings.ToLower(strings.TrimSpace(m.Domain))
		if m.Domain == "" {
			return nil, fmt.Errorf("catalog merchant %q has no domain", m.Name)
		}
		if m.ReturnWindowDays <= 0 {
			return nil, fmt.Errorf("catalog merchant %s has invalid return window %d", m.Domain, m.ReturnWindowDays)
		}
		if seen[m.Domain] {
			return nil, fmt.Errorf("catalog merchant %s listed twice", m.Domain)
		}
		seen[m.Domain] = true
		merchants = append(merchants, m)
	}

	return &Catalog{keywords: kw, merchants: merchants}, nil
}

func (c *Catalog) Keywords() Keywords {
	return Keywords{
		ShippingSubject: append([]string(nil), c.keywords.ShippingSubject...),
		ReceiptSubject:  append([]string(nil), c.keywords.ReceiptSubject...),
		ReceiptBody:     append([]string(nil), c.keywords.ReceiptBody...),
	}
}

func (c *Catalog) Merchants() []Merchant {
	return append([]Merchant(nil), c.merchants...)
}

func normalize(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
