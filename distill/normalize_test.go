package distill

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"AI Content Marketing Guide", "ai content marketing guide"},
		{"ai content marketing guide!", "ai content marketing guide"},
		{"  Spaced\tOut \n keyword ", "spaced out keyword"},
		{"check https://example.com/page for more", "check for more"},
		{"emoji 🚀 launch plan", "emoji launch plan"},
		{"ＡＩ tool", "ai tool"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidTerm(t *testing.T) {
	valid := []string{"seo", "email marketing automation guide", "a-b testing plan"}
	for _, s := range valid {
		if !validTerm(s) {
			t.Errorf("validTerm(%q) = false, want true", s)
		}
	}
	invalid := []string{
		"",
		"ab",
		"this keyword is far too long to ever be worth keeping around",
		"one two three four five six seven",
		"café tool",
		"-- ~~ !!",
	}
	for _, s := range invalid {
		if validTerm(s) {
			t.Errorf("validTerm(%q) = true, want false", s)
		}
	}
}

func TestBrandHeavy(t *testing.T) {
	cfg := Config{}
	cfg.defaults()
	f := newFilters(cfg)

	if !f.brandHeavy("chatgpt") {
		t.Error("bare brand token survived")
	}
	// One non-brand token is enough under the default minimum.
	if f.brandHeavy("chatgpt login") {
		t.Error("brand plus one modifier dropped without strict mode")
	}
	if f.brandHeavy("coffee grinder") {
		t.Error("brand-free keyword flagged")
	}

	// Strict mode also drops brand keywords whose remaining tokens are
	// all boilerplate modifiers.
	strict := cfg
	strict.StrictBrandModifiers = true
	fs := newFilters(strict)
	if !fs.brandHeavy("chatgpt login") {
		t.Error("strict mode kept brand+modifier keyword")
	}
	if fs.brandHeavy("chatgpt for legal teams") {
		t.Error("strict mode dropped brand keyword with substantive tokens")
	}
}

func TestUnderspecified(t *testing.T) {
	cfg := Config{}
	cfg.defaults()
	f := newFilters(cfg)

	generic := []string{"tools", "ai", "ai tools", "machine learning", "red large dog"}
	for _, kw := range generic {
		if !f.underspecified(kw) {
			t.Errorf("underspecified(%q) = false, want true", kw)
		}
	}
	specific := []string{
		"how to automate invoices",
		"marketing automation workflow",
		"coffee grinder",
		"automation guide",
	}
	for _, kw := range specific {
		if f.underspecified(kw) {
			t.Errorf("underspecified(%q) = true, want false", kw)
		}
	}
}

func TestCapBrandVariants(t *testing.T) {
	cfg := Config{MaxBrandVariations: 2}
	cfg.defaults()
	f := newFilters(cfg)

	records := []Record{
		{Keyword: "claude workflow guide"},
		{Keyword: "coffee grinder"},
		{Keyword: "claude prompt ideas"},
		{Keyword: "claude agency setup"},
	}
	kept, dropped := f.capBrandVariants(records)
	if len(kept) != 3 || dropped != 1 {
		t.Fatalf("kept %d dropped %d, want 3 and 1", len(kept), dropped)
	}
	if kept[2].Keyword != "claude prompt ideas" {
		t.Fatalf("capping changed order: %+v", kept)
	}
}
