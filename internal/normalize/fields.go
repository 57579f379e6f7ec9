package normalize

import (
	"regexp"
	"strings"
)

// Word boundaries are spelled out with Unicode classes because RE2's \b only
// knows ASCII word characters, and brand tokens may be Hangul.
const (
	leftBoundary  = `(?:^|[^\p{L}\p{N}_])`
	rightBoundary = `(?:[^\p{L}\p{N}_]|$)`
)

var (
	chipsetPattern = regexp.MustCompile(leftBoundary + `(?i:(rtx\s*\d{3,4}(?:\s*ti)?))` + rightBoundary)
	whitespace     = regexp.MustCompile(`\s+`)
)

// Fields are the identifiers extracted from a product name.
type Fields struct {
	Manufacturer *string
	Chipset      *string
	Distributor  string
}

// Extractor pulls manufacturer, chipset and distributor tokens out of
// free-text product names.
type Extractor struct {
	manufacturers      *tokenSet
	distributors       *tokenSet
	defaultDistributor string
}

// NewExtractor builds an extractor over the given closed token sets.
func NewExtractor(manufacturers, distributors []string, defaultDistributor string) *Extractor {
	return &Extractor{
		manufacturers:      newTokenSet(manufacturers),
		distributors:       newTokenSet(distributors),
		defaultDistributor: defaultDistributor,
	}
}

// Extract runs the three independent extractions over name.
func (e *Extractor) Extract(name string) Fields {
	f := Fields{
		Manufacturer: e.manufacturers.find(name),
		Chipset:      ExtractChipset(name),
		Distributor:  e.defaultDistributor,
	}
	if d := e.distributors.find(name); d != nil {
		f.Distributor = *d
	}
	return f
}

// ExtractChipset returns the first "RTX nnnn [TI]" token, whitespace
// collapsed and upper-cased, or nil.
func ExtractChipset(name string) *string {
	m := chipsetPattern.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	chip := strings.ToUpper(whitespace.ReplaceAllString(m[1], " "))
	return &chip
}

// tokenSet matches whole-word, case-insensitive occurrences of a closed list
// of tokens and reports the canonical spelling of the first one found.
type tokenSet struct {
	pattern   *regexp.Regexp
	canonical map[string]string
}

func newTokenSet(tokens []string) *tokenSet {
	ts := &tokenSet{canonical: make(map[string]string, len(tokens))}
	var alts []string
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key := strings.ToLower(tok)
		if _, dup := ts.canonical[key]; dup {
			continue
		}
		ts.canonical[key] = tok
		alts = append(alts, regexp.QuoteMeta(tok))
	}
	if len(alts) > 0 {
		ts.pattern = regexp.MustCompile(leftBoundary + `(?i:(` + strings.Join(alts, "|") + `))` + rightBoundary)
	}
	return ts
}

func (ts *tokenSet) find(s string) *string {
	if ts.pattern == nil {
		return nil
	}
	m := ts.pattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	tok, ok := ts.canonical[strings.ToLower(m[1])]
	if !ok {
		tok = m[1]
	}
	return &tok
}
