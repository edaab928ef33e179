// Package textproc provides the text normalization helpers shared by the
// ingestion pipeline: HTML stripping, boilerplate filtering, tokenization,
// and URL canonicalization.
package textproc

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	whitespace   = regexp.MustCompile(`\s+`)
	nonAlphaNum  = regexp.MustCompile(`[^a-z0-9\s]`)
	sentenceEnd  = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)
	scriptBlocks = regexp.MustCompile(`(?is)<(script|style|noscript|svg)[^>]*>.*?</(script|style|noscript|svg)>`)
	htmlTags     = regexp.MustCompile(`<[^>]+>`)
)

// Stopwords dropped during tokenization. Mirrors the feed-heavy vocabulary of
// the configured sources; generic filler plus newsroom boilerplate.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "will": {}, "into": {}, "over": {}, "than": {}, "after": {},
	"before": {}, "about": {}, "market": {}, "markets": {}, "news": {},
	"report": {}, "reports": {}, "update": {}, "weekly": {}, "daily": {},
	"today": {}, "latest": {}, "says": {},
}

// Normalize collapses whitespace and trims the input.
func Normalize(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// StripHTML removes script/style blocks, tags, and common entities from raw
// HTML, returning normalized text.
func StripHTML(rawHTML string) string {
	text := scriptBlocks.ReplaceAllString(rawHTML, " ")
	text = htmlTags.ReplaceAllString(text, " ")
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&quot;", `"`,
		"&#39;", "'",
		"&lt;", "<",
		"&gt;", "> ",
	)
	return Normalize(replacer.Replace(text))
}

// CleanLines drops short lines and obvious page chrome (cookie banners,
// subscription prompts, legal footers) from extracted text.
func CleanLines(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 30 {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "cookie") || strings.Contains(lower, "privacy") ||
			strings.Contains(lower, "subscribe") || strings.Contains(lower, "all rights reserved") ||
			strings.Contains(lower, "terms of use") || strings.Contains(lower, "sign up") ||
			strings.Contains(lower, "log in") {
			continue
		}
		filtered = append(filtered, line)
	}
	if len(filtered) == 0 {
		return Normalize(text)
	}
	return Normalize(strings.Join(filtered, "\n"))
}

// Limit truncates text to maxChars, appending an ellipsis when it cut.
func Limit(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "..."
}

// NormalizeURL canonicalizes a URL for dedup keys: fragment dropped, host
// lowercased. Returns "" for unparseable input.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// Tokenize lowercases, strips punctuation, and keeps tokens between 3 and 24
// characters that are not stopwords.
func Tokenize(text string) []string {
	lowered := nonAlphaNum.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(lowered)
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if len(tok) < 3 || len(tok) > 24 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Sentences splits text into sentence-ish fragments, keeping terminators.
func Sentences(text string) []string {
	matches := sentenceEnd.FindAllString(Normalize(text), -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := Normalize(m); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FirstSentences returns up to n leading sentences, used for expiry
// summaries.
func FirstSentences(text string, n int) []string {
	sentences := Sentences(text)
	if len(sentences) > n {
		sentences = sentences[:n]
	}
	return sentences
}
