package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/lumik/renloc/internal/script"
)

// Options tunes which blocks become units.
type Options struct {
	// TargetLang is the ISO 639-1 code of the translation target. Blocks
	// whose source text is already detected in this language are skipped.
	TargetLang string

	// KeepTranslated extracts blocks that already carry a translation
	// differing from their source. Off by default so prior human edits
	// are never re-dispatched.
	KeepTranslated bool
}

// Extract walks the documents in order and emits one unit per translatable
// block. It is a pure function of its inputs: same documents, same options,
// same units in the same order.
func Extract(docs []*script.Document, opts Options) []Unit {
	var units []Unit

	for di, doc := range docs {
		for bi, blk := range doc.Blocks {
			if !translatable(blk, opts) {
				continue
			}

			ctx := Context{
				File:  doc.Path,
				Label: blk.Label,
				Tag:   blk.Tag,
			}
			units = append(units, Unit{
				ID:         UnitID(blk.Source, ctx),
				SourceText: blk.Source,
				Context:    ctx,
				Status:     StatusPending,
				DocIndex:   di,
				BlockIndex: bi,
			})
		}
	}

	return units
}

func translatable(blk script.Block, opts Options) bool {
	if ShouldSkip(blk.Source) {
		return false
	}

	// A payload that differs from its source is a prior translation.
	if !opts.KeepTranslated && blk.Current != "" && blk.Current != blk.Source {
		return false
	}

	if opts.TargetLang != "" && script.TextLanguage(blk.Source) == opts.TargetLang {
		return false
	}

	return true
}

// UnitID derives the stable content-addressed identifier of a unit:
// a hash over the normalized source text and its structural context.
// Identical text and context always hash to the same ID across runs.
func UnitID(sourceText string, ctx Context) string {
	h := sha256.New()
	h.Write([]byte(normalize(sourceText)))
	h.Write([]byte{0x1f})
	h.Write([]byte(ctx.File))
	h.Write([]byte{0x1f})
	h.Write([]byte(ctx.Label))
	h.Write([]byte{0x1f})
	h.Write([]byte(ctx.Tag))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}
