package glossary

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder markers use CJK corner brackets: translation providers leave
// them alone where ASCII markers tend to get mangled.
const (
	markerPrefix = "【PH"
	markerSuffix = "】"
)

// Built-in protected span patterns: Ren'Py interpolations ([name]), text
// tags ({i}, {color=#fff}, {{sprite}}), printf verbs, escaped line breaks
// and markup tags.
var spanPatterns = regexp.MustCompile(strings.Join([]string{
	`\[[^\[\]]*\]`,
	`\{\{[^{}]*\}\}`,
	`\{[^{}]*\}`,
	`%[\w]*[sdifx]`,
	`\\n`,
	`<[^<>]+>`,
}, "|"))

var markerRe = regexp.MustCompile(markerPrefix + `(\d{3,})` + markerSuffix)

// ProtectedText is the forward-pass output: the text a backend is allowed
// to see, plus the spans hidden behind numbered markers.
type ProtectedText struct {
	Source string
	Text   string
	Spans  []string
}

// IntegrityError reports a placeholder dropped or duplicated by the backend.
type IntegrityError struct {
	Marker string
	Want   int
	Got    int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("placeholder %s: want %d occurrence(s) in backend output, got %d", e.Marker, e.Want, e.Got)
}

// Filter applies glossary rules and span protection around backend calls.
type Filter struct {
	glossary Glossary
}

func NewFilter(g Glossary) *Filter {
	return &Filter{glossary: g}
}

// Forward rewrites text for dispatch: every protected glossary match and
// every built-in span pattern is replaced by a uniquely numbered opaque
// marker, in order of appearance. The backend never sees protected content.
func (f *Filter) Forward(text string) ProtectedText {
	p := ProtectedText{Source: text, Text: text}

	// Single left-to-right pass over all protect entries. A replaced span
	// goes straight to the output buffer, so inserted markers are never
	// rescanned, even when a match overlaps the marker alphabet itself.
	if entries := f.glossary.Protect(); len(entries) > 0 {
		var b strings.Builder
		rest := p.Text
		for {
			at, match := -1, ""
			for _, entry := range entries {
				i := strings.Index(rest, entry.Match)
				if i >= 0 && (at < 0 || i < at) {
					at, match = i, entry.Match
				}
			}
			if at < 0 {
				b.WriteString(rest)
				break
			}
			b.WriteString(rest[:at])
			b.WriteString(marker(len(p.Spans)))
			p.Spans = append(p.Spans, match)
			rest = rest[at+len(match):]
		}
		p.Text = b.String()
	}

	p.Text = spanPatterns.ReplaceAllStringFunc(p.Text, func(m string) string {
		ret := marker(len(p.Spans))
		p.Spans = append(p.Spans, m)
		return ret
	})

	return p
}

// Reverse substitutes the original spans back by index and applies forced
// glossary terms to the translated text. A marker count that differs from
// the forward pass fails the unit rather than emitting corrupted text.
func (f *Filter) Reverse(p ProtectedText, translated string) (string, error) {
	for i, span := range p.Spans {
		m := marker(i)
		if got := strings.Count(translated, m); got != 1 {
			return "", &IntegrityError{Marker: m, Want: 1, Got: got}
		}
		translated = strings.Replace(translated, m, span, 1)
	}

	// Any marker left over was invented or shifted by the backend.
	if stray := markerRe.FindString(translated); stray != "" {
		return "", &IntegrityError{Marker: stray, Want: 0, Got: 1}
	}

	for _, entry := range f.glossary.Force() {
		if strings.Contains(p.Source, entry.Match) {
			translated = strings.ReplaceAll(translated, entry.Match, entry.Replacement)
		}
	}

	return translated, nil
}

func marker(index int) string {
	return fmt.Sprintf("%s%03d%s", markerPrefix, index, markerSuffix)
}
