package source

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Raw forum and news text arrives with markup and entity escapes. Titles
// are stripped and lowercased, then matched against a small set of intent
// templates plus a fixed category vocabulary.

var sanitizer = bluemonday.StrictPolicy()

const phraseWord = `[a-z0-9][a-z0-9'-]*`

func phraseRE(expr string) *regexp.Regexp {
	return regexp.MustCompile(strings.ReplaceAll(expr, "{p}", phraseWord+`(?: `+phraseWord+`){0,4}`))
}

var intentTemplates = []struct {
	re    *regexp.Regexp
	build func(m []string) string
}{
	{phraseRE(`\bhow to ({p})`), func(m []string) string { return "how to " + m[1] }},
	{phraseRE(`\bbest ({p}) for ({p})`), func(m []string) string { return "best " + m[1] + " for " + m[2] }},
	{phraseRE(`\b({p}) alternatives?\b`), func(m []string) string { return m[1] + " alternative" }},
	{phraseRE(`\b({p}) (?:vs|versus) ({p})\b`), func(m []string) string { return m[1] + " vs " + m[2] }},
	{phraseRE(`\b({p}) (tutorial|guide|checklist|template|workflow)s?\b`), func(m []string) string { return m[1] + " " + m[2] }},
}

// categoryTerms are matched by containment regardless of sentence shape.
var categoryTerms = []string{
	"ai tool", "ai generator", "ai writer", "ai assistant", "ai chatbot",
	"machine learning", "deep learning", "neural network", "gpt",
	"artificial intelligence", "automation", "nlp", "computer vision",
}

func sanitizeText(raw string) string {
	clean := sanitizer.Sanitize(raw)
	clean = html.UnescapeString(clean)
	return strings.ToLower(strings.TrimSpace(clean))
}

// extractPhrases returns the keyword candidates found in raw text, first
// occurrence order, duplicates removed.
func extractPhrases(raw string) []string {
	text := sanitizeText(raw)
	if text == "" {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	add := func(kw string) {
		kw = strings.TrimSpace(kw)
		if len(kw) < 3 || len(kw) > 40 {
			return
		}
		if _, dup := seen[kw]; dup {
			return
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}

	for _, t := range intentTemplates {
		for _, m := range t.re.FindAllStringSubmatch(text, -1) {
			add(t.build(m))
		}
	}
	for _, term := range categoryTerms {
		if strings.Contains(text, term) {
			add(term)
		}
	}
	return out
}
