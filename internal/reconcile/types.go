package reconcile

// Entry is one replacement in a patch artifact: the source text, its
// translation, and where the text was seen. Stale entries carry a
// translation whose source line has since changed; they are kept for
// manual review, never dropped.
type Entry struct {
	File  string
	Line  int
	Old   string
	New   string
	Stale bool
}

// Patch is the artifact applied on top of a re-extracted copy of the
// source. The source files themselves are never rewritten in place.
type Patch struct {
	Lang    string
	Entries []Entry
}

// Stale returns the entries flagged during reconciliation.
func (p Patch) Stale() []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if e.Stale {
			out = append(out, e)
		}
	}
	return out
}

// Summary counts what a merge pass did.
type Summary struct {
	Merged  int
	Failed  int
	Skipped int
	Pending int
}
