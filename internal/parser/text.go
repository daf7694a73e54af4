package parser

import (
	"strings"

	"golang.org/x/net/html"
)

// NormalizeBody returns the text the classifier and extractors work on:
// the HTML body rendered to text when present, otherwise the plain body.
func NormalizeBody(bodyHTML, bodyText string) string {
	if strings.TrimSpace(bodyHTML) != "" {
		return HTMLToText(bodyHTML)
	}
	return bodyText
}

// HTMLToText drops script, style and head content and joins the remaining
// text nodes with single spaces.
func HTMLToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var parts []string
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(parts, " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isInvisible(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isInvisible(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(z.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func isInvisible(tag string) bool {
	switch tag {
	case "script", "style", "head":
		return true
	}
	return false
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
