package glossary

import "sort"

// Direction says which side of the translation an entry acts on.
type Direction string

const (
	// DirectionProtect marks the matched span as untranslatable: it is
	// hidden behind a placeholder before dispatch and restored afterwards.
	DirectionProtect Direction = "protect"

	// DirectionForce substitutes the configured target term into the
	// translated text.
	DirectionForce Direction = "force"
)

// Entry is one glossary rule. Match is a literal substring.
type Entry struct {
	Match       string    `yaml:"match"`
	Replacement string    `yaml:"replacement,omitempty"`
	Direction   Direction `yaml:"direction"`
}

// Glossary is the full rule set for a language pair.
type Glossary struct {
	Entries []Entry `yaml:"entries"`
}

// Protect returns the protect-side entries, longest match first so
// overlapping rules resolve deterministically.
func (g Glossary) Protect() []Entry {
	return byDirection(g.Entries, DirectionProtect)
}

// Force returns the force-side entries, longest match first.
func (g Glossary) Force() []Entry {
	return byDirection(g.Entries, DirectionForce)
}

func byDirection(entries []Entry, d Direction) []Entry {
	ret := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Direction == d && e.Match != "" {
			ret = append(ret, e)
		}
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return len(ret[i].Match) > len(ret[j].Match)
	})
	return ret
}
