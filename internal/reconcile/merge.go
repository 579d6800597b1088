package reconcile

import (
	"fmt"

	"github.com/lumik/renloc/internal/extract"
	"github.com/lumik/renloc/internal/script"
	"github.com/lumik/renloc/pkg/log"
)

// Merge folds every Done unit's result back into its document payload.
// Units in other states leave their blocks untouched, so a merge with no
// completed units is the identity on the documents. Completion order does
// not matter; each unit addresses its block by position.
func Merge(docs []*script.Document, units []extract.Unit) Summary {
	var sum Summary
	for _, u := range units {
		switch u.Status {
		case extract.StatusDone:
			if u.DocIndex < 0 || u.DocIndex >= len(docs) {
				log.Warn("Unit %s references missing document %d, skipping merge", u.ID, u.DocIndex)
				sum.Failed++
				continue
			}
			if err := script.SetPayload(docs[u.DocIndex], u.BlockIndex, u.Result); err != nil {
				log.Warn("Unit %s could not be merged into %s: %v", u.ID, docs[u.DocIndex].Path, err)
				sum.Failed++
				continue
			}
			sum.Merged++
		case extract.StatusFailed:
			sum.Failed++
		case extract.StatusSkipped:
			sum.Skipped++
		default:
			sum.Pending++
		}
	}
	return sum
}

// BuildPatch derives the patch artifact for a run: one entry per Done
// unit, positioned by the source line of its block. Prior patch entries
// survive the rebuild: an entry superseded by a fresh translation is
// replaced, an entry whose source text still exists is carried unchanged,
// and an entry whose source text vanished is carried flagged stale, so a
// changed source line never silently discards the old translation.
func BuildPatch(lang string, docs []*script.Document, units []extract.Unit, prior *Patch) Patch {
	patch := Patch{Lang: lang}

	sources := make(map[string]struct{})
	for _, doc := range docs {
		for _, blk := range doc.Blocks {
			sources[blk.Source] = struct{}{}
		}
	}

	fresh := make(map[string]struct{}, len(units))
	for _, u := range units {
		if u.Status != extract.StatusDone {
			continue
		}
		fresh[u.SourceText] = struct{}{}
		line := 0
		if u.DocIndex >= 0 && u.DocIndex < len(docs) {
			doc := docs[u.DocIndex]
			if u.BlockIndex >= 0 && u.BlockIndex < len(doc.Blocks) {
				// Patch positions are 1-based file lines.
				line = doc.Blocks[u.BlockIndex].SourceLine + 1
			}
		}
		patch.Entries = append(patch.Entries, Entry{
			File: u.Context.File,
			Line: line,
			Old:  u.SourceText,
			New:  u.Result,
		})
	}

	if prior != nil {
		for _, e := range prior.Entries {
			if _, ok := fresh[e.Old]; ok {
				continue
			}
			if e.New == "" {
				continue
			}
			if _, ok := sources[e.Old]; ok {
				patch.Entries = append(patch.Entries, e)
				continue
			}
			stale := e
			stale.Stale = true
			patch.Entries = append(patch.Entries, stale)
			log.Warn("Stale translation retained for review: %q (was %s:%d)", e.Old, e.File, e.Line)
		}
	}
	return patch
}

// Apply overlays a patch onto freshly read documents by matching source
// text, for reapplying an artifact without rerunning the backends. Stale
// entries are never applied.
func Apply(docs []*script.Document, patch Patch) (Summary, error) {
	byOld := make(map[string]string, len(patch.Entries))
	for _, e := range patch.Entries {
		if e.Stale || e.New == "" {
			continue
		}
		byOld[e.Old] = e.New
	}

	var sum Summary
	for _, doc := range docs {
		for i, blk := range doc.Blocks {
			translated, ok := byOld[blk.Source]
			if !ok {
				continue
			}
			if err := script.SetPayload(doc, i, translated); err != nil {
				return sum, fmt.Errorf("apply patch to %s: %w", doc.Path, err)
			}
			sum.Merged++
		}
	}
	return sum, nil
}
