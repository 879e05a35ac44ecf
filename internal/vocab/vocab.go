// Package vocab holds every locale-specific label the adsweep heuristics
// anchor on.
//
// The host page offers no stable class names or ids, so detection,
// classification and identifier extraction key off short, stable, localized
// UI strings instead. Keeping all of them in one lookup table means that a new
// locale or a relabelled button is an additive entry, not a code change.
package vocab

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Labels is the vocabulary of a single locale.
type Labels struct {
	// AdDetails are "view ad details" link labels (primary markers).
	AdDetails []string `yaml:"adDetails,omitempty"`

	// SummaryDetails are "view summary" link labels (primary markers).
	SummaryDetails []string `yaml:"summaryDetails,omitempty"`

	// Sponsored are "sponsored" labels (secondary markers).
	Sponsored []string `yaml:"sponsored,omitempty"`

	// CopyLink are labels of the interactive element that copies the ad link.
	CopyLink []string `yaml:"copyLink,omitempty"`

	// LibraryID are labels printed before the numeric library id.
	LibraryID []string `yaml:"libraryId,omitempty"`

	// ActiveCount are phrases that follow the number of active ads sharing a creative.
	ActiveCount []string `yaml:"activeCount,omitempty"`

	// Keywords are topic keywords matched anywhere in the card text.
	Keywords []string `yaml:"keywords,omitempty"`

	// CallToAction are phrases matched only inside interactive elements.
	CallToAction []string `yaml:"callToAction,omitempty"`
}

// Table maps locale tags to their labels.
type Table struct {
	locales map[string]Labels
}

// defaultLocales is the built-in vocabulary observed on the ad library UI.
var defaultLocales = map[string]Labels{
	"en": {
		AdDetails:      []string{"See ad details"},
		SummaryDetails: []string{"See summary details"},
		Sponsored:      []string{"Sponsored"},
		CopyLink:       []string{"Copy link"},
		LibraryID:      []string{"Library ID"},
		ActiveCount:    []string{"ads use this creative and text", "ads use this creative"},
		Keywords:       []string{"whatsapp", "whats app", "wa.me", "zap zap", "wpp:", "whats:", "zap:", "wpp ", "whatsapp:"},
		CallToAction:   []string{"send message", "send whatsapp message", "message us", "chat on whatsapp"},
	},
	"pt": {
		AdDetails:      []string{"Ver detalhes do anúncio"},
		SummaryDetails: []string{"Ver detalhes do resumo"},
		Sponsored:      []string{"Patrocinado"},
		CopyLink:       []string{"Copiar link"},
		LibraryID:      []string{"Identificação da biblioteca", "ID da biblioteca"},
		ActiveCount:    []string{"anúncios usam esse criativo e esse texto", "anúncios usam esse criativo"},
		Keywords:       []string{"zapzap", "chama no zap", "chame no zap", "me chama no whats"},
		CallToAction:   []string{"enviar mensagem", "enviar mensagem pelo whatsapp", "chamar no whatsapp", "fale conosco", "saiba mais no whatsapp"},
	},
}

// Default returns a table holding the built-in locales.
func Default() *Table {
	t := &Table{locales: make(map[string]Labels, len(defaultLocales))}
	for locale, labels := range defaultLocales {
		t.Merge(locale, labels)
	}
	return t
}

// Merge adds labels to a locale, creating it if needed.
// Existing labels are kept; duplicates are ignored after normalization.
func (t *Table) Merge(locale string, labels Labels) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	cur := t.locales[locale]
	cur.AdDetails = union(cur.AdDetails, labels.AdDetails)
	cur.SummaryDetails = union(cur.SummaryDetails, labels.SummaryDetails)
	cur.Sponsored = union(cur.Sponsored, labels.Sponsored)
	cur.CopyLink = union(cur.CopyLink, labels.CopyLink)
	cur.LibraryID = union(cur.LibraryID, labels.LibraryID)
	cur.ActiveCount = union(cur.ActiveCount, labels.ActiveCount)
	cur.Keywords = unionRaw(cur.Keywords, labels.Keywords)
	cur.CallToAction = union(cur.CallToAction, labels.CallToAction)
	t.locales[locale] = cur
}

// Locales returns the known locale tags in sorted order.
func (t *Table) Locales() []string {
	out := make([]string, 0, len(t.locales))
	for l := range t.locales {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Locale returns the labels of one locale.
func (t *Table) Locale(locale string) (Labels, bool) {
	l, ok := t.locales[strings.ToLower(locale)]
	return l, ok
}

// All returns the union of every locale's labels. Matching is
// locale-agnostic because a page may mix locales.
func (t *Table) All() Labels {
	var all Labels
	for _, locale := range t.Locales() {
		l := t.locales[locale]
		all.AdDetails = union(all.AdDetails, l.AdDetails)
		all.SummaryDetails = union(all.SummaryDetails, l.SummaryDetails)
		all.Sponsored = union(all.Sponsored, l.Sponsored)
		all.CopyLink = union(all.CopyLink, l.CopyLink)
		all.LibraryID = union(all.LibraryID, l.LibraryID)
		all.ActiveCount = union(all.ActiveCount, l.ActiveCount)
		all.Keywords = unionRaw(all.Keywords, l.Keywords)
		all.CallToAction = union(all.CallToAction, l.CallToAction)
	}
	return all
}

// Set is a set of normalized labels for exact matching.
type Set map[string]struct{}

// NewSet normalizes labels into a set.
func NewSet(labels ...[]string) Set {
	s := make(Set)
	for _, group := range labels {
		for _, l := range group {
			if n := Normalize(l); n != "" {
				s[n] = struct{}{}
			}
		}
	}
	return s
}

// Has reports whether the already normalized text is in the set.
func (s Set) Has(normalized string) bool {
	_, ok := s[normalized]
	return ok
}

// Alternation returns a regexp alternation of the labels, longest first,
// suitable for embedding into a larger (?i) pattern.
func Alternation(labels []string) string {
	sorted := make([]string, 0, len(labels))
	for _, l := range labels {
		if n := Normalize(l); n != "" {
			sorted = append(sorted, n)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, l := range sorted {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(l), " ", `\s+`)
	}
	return strings.Join(quoted, "|")
}

// Normalize canonicalizes label or page text for comparison:
// NFC composition, lowercase, collapsed whitespace, trimmed.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}

// union merges normalized labels, preserving first-seen order.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, group := range [][]string{a, b} {
		for _, l := range group {
			n := Normalize(l)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// unionRaw merges keywords without collapsing their whitespace,
// since trailing spaces in keywords like "wpp " are significant.
func unionRaw(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	lower := cases.Lower(language.Und)
	for _, group := range [][]string{a, b} {
		for _, l := range group {
			k := lower.String(norm.NFC.String(l))
			if strings.TrimSpace(k) == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
