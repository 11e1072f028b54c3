// CLAUDE:SUMMARY Keyword normalization and filtering: NFKC cleanup, validity gate, brand/generic vocab filters, brand-variation cap.
package distill

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	urlRE        = regexp.MustCompile(`(?i)https?://\S+|www\.[^\s]+`)
	multiSpaceRE = regexp.MustCompile(`\s+`)
	symbolRE     = regexp.MustCompile(`[^a-zA-Z0-9\s\-_'&+/]`)
	tokenSplitRE = regexp.MustCompile(`[^a-z0-9]+`)
)

// Term hygiene bounds. Harvested phrases outside these are noise: single
// letters, pasted paragraphs, emoji soup.
const (
	minTermLen     = 3
	maxTermLen     = 40
	maxTermWords   = 6
	maxSymbolRatio = 0.2
)

// Normalize canonicalizes a keyword: NFKC fold, URL removal, lowercase,
// symbol stripping, whitespace collapse. Two phrases that differ only by
// case or punctuation normalize to the same string.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = urlRE.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "​", " ")
	s = strings.ToLower(s)
	s = symbolRE.ReplaceAllString(s, " ")
	s = multiSpaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// validTerm reports whether a normalized keyword is worth keeping.
func validTerm(s string) bool {
	if s == "" {
		return false
	}
	if len(s) < minTermLen || len(s) > maxTermLen {
		return false
	}
	if len(strings.Fields(s)) > maxTermWords {
		return false
	}
	symbols := 0
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			symbols++
		}
	}
	return float64(symbols)/float64(len(s)) <= maxSymbolRatio
}

func tokenize(s string) []string {
	parts := tokenSplitRE.Split(strings.ToLower(s), -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Default vocabulary for the brand and generic filters. Config lists
// replace these wholesale when set.
var (
	defaultBrandTerms = []string{
		"chatgpt", "openai", "gpt", "gpt-4", "claude", "midjourney",
		"deepseek", "copilot", "turnitin", "undetectable ai",
	}
	defaultBrandModifiers = []string{
		"login", "signup", "account", "app", "download", "premium",
		"price", "prices", "pricing", "cost", "free", "trial", "promo",
		"discount", "code", "coupon", "review", "reviews", "vs",
		"alternative", "alternatives", "compare", "comparison", "checker",
		"detector", "pro", "plus", "plan", "plans", "lifetime", "prompt",
		"prompts", "unlimited",
	}
	defaultGenericTerms = []string{
		"service", "services", "software", "platform", "platforms",
		"solution", "solutions", "application", "applications", "tool",
		"tools", "machine learning", "artificial intelligence",
		"automation", "ai", "technology", "technologies", "gpt",
	}
	defaultLongTailTerms = []string{
		"workflow", "workflows", "strategy", "strategies", "ideas",
		"guide", "guides", "tutorial", "tutorials", "template",
		"templates", "checklist", "checklists", "automation", "process",
		"processes", "plan", "plans", "blueprint", "blueprints",
		"examples", "case", "cases", "study", "studies", "use", "uses",
		"stack", "stacks", "integration", "integrations", "niche",
		"niches", "system", "systems", "playbook", "playbooks",
		"framework", "frameworks", "marketing", "seo", "content",
		"roadmap", "roadmaps", "setup", "builders", "for", "beginners",
		"advanced", "agency", "agencies", "students", "writers",
		"designers", "developers", "founders", "startups", "teams",
	}

	genericLeadTokens = map[string]struct{}{
		"ai": {}, "machine": {}, "software": {}, "platform": {},
		"service": {}, "tool": {}, "technology": {}, "data": {},
	}
	genericTailTokens = map[string]struct{}{
		"tool": {}, "tools": {}, "software": {}, "platform": {},
		"platforms": {}, "service": {}, "services": {}, "application": {},
		"applications": {}, "app": {}, "apps": {}, "solution": {},
		"solutions": {}, "system": {}, "systems": {}, "suite": {},
	}
	questionPrefixes = []string{
		"how to", "how do", "how can", "what is", "what are", "why",
		"should i", "can i", "is there", "best way", "ways to",
	}
)

// filters is the compiled filter vocabulary for one pipeline.
type filters struct {
	brandEnabled   bool
	genericEnabled bool

	brandPhrases    []string
	brandTokens     map[string]struct{}
	modifierTokens  map[string]struct{}
	genericTerms    map[string]struct{}
	longTailTokens  map[string]struct{}
	minNonBrand     int
	strictModifiers bool
	maxVariations   int
}

func newFilters(cfg Config) *filters {
	f := &filters{
		brandEnabled:    !cfg.DisableBrandFilter,
		genericEnabled:  !cfg.DisableGenericFilter,
		brandPhrases:    cfg.BrandTerms,
		brandTokens:     map[string]struct{}{},
		modifierTokens:  toSet(cfg.BrandModifiers),
		genericTerms:    toSet(cfg.GenericTerms),
		longTailTokens:  toSet(cfg.LongTailTerms),
		minNonBrand:     cfg.MinNonBrandTokens,
		strictModifiers: cfg.StrictBrandModifiers,
		maxVariations:   cfg.MaxBrandVariations,
	}
	for _, phrase := range cfg.BrandTerms {
		for _, tok := range strings.Fields(phrase) {
			f.brandTokens[tok] = struct{}{}
		}
	}
	return f
}

func toSet(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// brandHeavy reports whether a keyword is dominated by brand terms and
// their boilerplate modifiers (login, pricing, alternative, ...) rather
// than carrying demand of its own.
func (f *filters) brandHeavy(keyword string) bool {
	if keyword == "" {
		return false
	}
	kw := strings.ToLower(keyword)
	tokens := tokenize(kw)
	if len(tokens) == 0 {
		return false
	}

	present := false
	for _, phrase := range f.brandPhrases {
		if strings.Contains(kw, phrase) {
			present = true
			break
		}
	}
	if !present {
		for _, tok := range tokens {
			if _, ok := f.brandTokens[tok]; ok {
				present = true
				break
			}
		}
	}
	if !present {
		return false
	}

	var nonBrand []string
	for _, tok := range tokens {
		if _, ok := f.brandTokens[tok]; !ok {
			nonBrand = append(nonBrand, tok)
		}
	}
	if len(nonBrand) == 0 {
		return true
	}
	if f.minNonBrand > 0 && len(nonBrand) < f.minNonBrand {
		return true
	}
	if f.strictModifiers {
		all := true
		for _, tok := range nonBrand {
			if _, ok := f.modifierTokens[tok]; !ok {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// underspecified reports whether a keyword is too generic to rank for:
// bare head terms ("ai tools"), single short tokens, or multiword phrases
// with no informative token. Question-form phrases always pass.
func (f *filters) underspecified(keyword string) bool {
	if keyword == "" {
		return true
	}
	kw := strings.ToLower(keyword)
	if _, ok := f.genericTerms[kw]; ok {
		return true
	}
	tokens := tokenize(kw)
	if len(tokens) == 0 {
		return true
	}

	if len(tokens) == 1 {
		if _, ok := f.genericTerms[tokens[0]]; ok {
			return true
		}
		return len(tokens[0]) <= 3
	}

	if len(tokens) == 2 {
		joined := tokens[0] + " " + tokens[1]
		if _, ok := f.genericTerms[joined]; ok {
			return true
		}
		_, head0 := f.genericTerms[tokens[0]]
		_, head1 := f.genericTerms[tokens[1]]
		if head0 && head1 {
			return true
		}
		_, lead0 := genericLeadTokens[tokens[0]]
		_, tail1 := genericTailTokens[tokens[1]]
		if lead0 && tail1 {
			return true
		}
		_, lead1 := genericLeadTokens[tokens[1]]
		_, tail0 := genericTailTokens[tokens[0]]
		if lead1 && tail0 {
			return true
		}
		if !f.hasLongTailToken(tokens) {
			return false
		}
	}

	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(kw, prefix) {
			return false
		}
	}
	if len(tokens) >= 3 {
		return !f.hasLongTailToken(tokens)
	}
	return false
}

func (f *filters) hasLongTailToken(tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := f.longTailTokens[tok]; ok {
			return true
		}
	}
	return false
}

// brand returns the brand a keyword belongs to, or "".
func (f *filters) brand(keyword string) string {
	kw := strings.ToLower(keyword)
	for _, phrase := range f.brandPhrases {
		if strings.Contains(kw, phrase) {
			return phrase
		}
	}
	for _, tok := range tokenize(kw) {
		if _, ok := f.brandTokens[tok]; ok {
			return tok
		}
	}
	return ""
}

// capBrandVariants keeps at most maxVariations keywords per brand so a
// single product cannot crowd out the rest of the batch. Non-positive cap
// disables the limit.
func (f *filters) capBrandVariants(records []Record) ([]Record, int) {
	if f.maxVariations <= 0 {
		return records, 0
	}
	counts := map[string]int{}
	kept := records[:0]
	dropped := 0
	for _, r := range records {
		b := f.brand(r.Keyword)
		if b == "" {
			kept = append(kept, r)
			continue
		}
		if counts[b] < f.maxVariations {
			counts[b]++
			kept = append(kept, r)
			continue
		}
		dropped++
	}
	return kept, dropped
}
