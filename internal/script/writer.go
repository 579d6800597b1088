package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultWriter renders Documents back to disk.
type DefaultWriter struct{}

func NewWriter() Writer {
	return &DefaultWriter{}
}

func (w *DefaultWriter) Write(path string, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return os.WriteFile(path, []byte(Render(doc)), 0o644)
}

// Render produces the file content. Lines are emitted verbatim with the
// terminator observed on read, so a Document that was never patched renders
// byte-identical to its input.
func Render(doc *Document) string {
	nl := doc.Newline
	if nl == "" {
		nl = "\n"
	}
	out := strings.Join(doc.Lines, nl)
	if !doc.MissingFinalNewline {
		out += nl
	}
	return out
}

// SetPayload replaces the quoted translation payload of block index blk with
// the given text. Only the quoted span of the payload line changes; leading
// whitespace, tags and trailing clauses are preserved.
func SetPayload(doc *Document, blk int, text string) error {
	if blk < 0 || blk >= len(doc.Blocks) {
		return fmt.Errorf("block index %d out of range", blk)
	}
	block := &doc.Blocks[blk]
	line := doc.Lines[block.PayloadLine]

	replaced, err := replaceQuoted(line, Escape(text))
	if err != nil {
		return fmt.Errorf("line %d of %s: %w", block.PayloadLine+1, doc.Path, err)
	}

	doc.Lines[block.PayloadLine] = replaced
	block.Current = text
	return nil
}

// replaceQuoted splices newContent into the first complete quoted span of line.
func replaceQuoted(line, newContent string) (string, error) {
	open := -1
	for i := 0; i < len(line); i++ {
		if line[i] == '"' && !isEscaped(line, i) {
			open = i
			break
		}
	}
	if open < 0 {
		return "", fmt.Errorf("no quoted payload found")
	}

	close := -1
	for i := open + 1; i < len(line); i++ {
		if line[i] == '"' && !isEscaped(line, i) {
			close = i
			break
		}
	}
	if close < 0 {
		return "", fmt.Errorf("unterminated quoted payload")
	}

	return line[:open+1] + newContent + line[close:], nil
}
