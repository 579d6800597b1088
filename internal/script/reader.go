package script

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

var (
	translateHeaderRe = regexp.MustCompile(`^translate\s+(\S+)\s+(\S+)\s*:`)
	commentSourceRe   = regexp.MustCompile(`^#\s*`)
)

// DefaultReader parses Ren'Py translation files.
type DefaultReader struct {
	path string
}

// NewReader creates a reader for the given translation file.
func NewReader(path string) Reader {
	return &DefaultReader{path: path}
}

func (r *DefaultReader) Read(path string) (*Document, error) {
	if path == "" {
		path = r.path
	}
	if !strings.HasSuffix(strings.ToLower(path), ".rpy") {
		return nil, fmt.Errorf("only .rpy translation files are supported: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file: %w", err)
	}
	content := string(data)

	// A file with any CRLF terminator renders back with CRLF throughout.
	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}

	var lines []string
	if content != "" {
		lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
		for i := range lines {
			lines[i] = strings.TrimSuffix(lines[i], "\r")
		}
	}

	doc := &Document{
		Path:                path,
		Lines:               lines,
		Newline:             newline,
		MissingFinalNewline: !strings.HasSuffix(content, "\n"),
	}
	doc.Blocks = parseBlocks(lines)
	return doc, nil
}

// parseBlocks scans the verbatim lines for the two translation block shapes:
// old/new string pairs and commented-dialogue pairs. Anything it does not
// recognize stays opaque.
func parseBlocks(lines []string) []Block {
	var blocks []Block
	label := ""

	i := 0
	for i < len(lines) {
		stripped := strings.TrimSpace(lines[i])

		if m := translateHeaderRe.FindStringSubmatch(stripped); m != nil {
			label = m[2]
			i++
			continue
		}

		if strings.HasPrefix(stripped, "old ") {
			if blk, next, ok := parseOldNew(lines, i, label); ok {
				blocks = append(blocks, blk)
				i = next + 1
				continue
			}
			i++
			continue
		}

		if commentSourceRe.MatchString(stripped) {
			if blk, next, ok := parseDialogue(lines, i, label); ok {
				blocks = append(blocks, blk)
				i = next + 1
				continue
			}
		}

		i++
	}

	return blocks
}

// parseOldNew matches an `old "..."` line with the next `new "..."` line.
// Returns the payload line index so the caller can continue past the pair.
func parseOldNew(lines []string, start int, label string) (Block, int, bool) {
	_, source, ok := splitDialogue(strings.TrimSpace(lines[start]))
	if !ok {
		return Block{}, 0, false
	}
	// `old` is parsed as tag by splitDialogue; re-check it really is one.
	if !strings.HasPrefix(strings.TrimSpace(lines[start]), "old ") {
		return Block{}, 0, false
	}

	for j := start + 1; j < len(lines); j++ {
		stripped := strings.TrimSpace(lines[j])
		if stripped == "" {
			continue
		}
		if strings.HasPrefix(stripped, "new ") {
			_, current, ok := splitDialogue(stripped)
			if !ok {
				return Block{}, 0, false
			}
			return Block{
				Kind:        BlockOldNew,
				Source:      source,
				Current:     current,
				Label:       label,
				SourceLine:  start,
				PayloadLine: j,
			}, j, true
		}
		// Another old or a comment means the pair is broken; bail.
		break
	}
	return Block{}, 0, false
}

// parseDialogue matches a `# tag "source"` comment with the following code
// line carrying the same tag. Voice statements and positional meta comments
// (game/..., renpy/...) are skipped, as the original toolkit does.
func parseDialogue(lines []string, start int, label string) (Block, int, bool) {
	comment := commentSourceRe.ReplaceAllString(strings.TrimSpace(lines[start]), "")
	if strings.HasPrefix(comment, "game/") || strings.HasPrefix(comment, "renpy/") {
		return Block{}, 0, false
	}

	tag, source, ok := splitDialogue(comment)
	if !ok || tag == "voice" || tag == "old" || tag == "new" {
		return Block{}, 0, false
	}

	for j := start + 1; j < len(lines); j++ {
		stripped := strings.TrimSpace(lines[j])
		if stripped == "" {
			continue
		}
		if strings.HasPrefix(stripped, "#") {
			return Block{}, 0, false
		}

		codeTag, current, ok := splitDialogue(stripped)
		if !ok {
			return Block{}, 0, false
		}
		if codeTag == "voice" {
			continue
		}
		if codeTag != tag {
			return Block{}, 0, false
		}
		return Block{
			Kind:        BlockDialogue,
			Source:      source,
			Current:     current,
			Tag:         tag,
			Label:       label,
			SourceLine:  start,
			PayloadLine: j,
		}, j, true
	}
	return Block{}, 0, false
}

// splitDialogue splits a statement like `e "Hello"` or `"Hello"` into its
// tag and unescaped quoted text. Fails when there is no complete quoted span.
func splitDialogue(line string) (tag string, text string, ok bool) {
	open := -1
	for i := 0; i < len(line); i++ {
		if line[i] == '"' && !isEscaped(line, i) {
			open = i
			break
		}
	}
	if open < 0 {
		return "", "", false
	}

	close := -1
	for i := open + 1; i < len(line); i++ {
		if line[i] == '"' && !isEscaped(line, i) {
			close = i
			break
		}
	}
	if close < 0 {
		return "", "", false
	}

	tag = strings.TrimSpace(line[:open])
	text = Unescape(line[open+1 : close])
	return tag, text, true
}

func isEscaped(s string, pos int) bool {
	backslashes := 0
	for i := pos - 1; i >= 0 && s[i] == '\\'; i-- {
		backslashes++
	}
	return backslashes%2 == 1
}

// Unescape reverses Ren'Py string escaping.
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Escape prepares text for embedding in a double-quoted Ren'Py string.
func Escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// DetectLanguage guesses the dominant language of the block sources.
func DetectLanguage(blocks []Block) language.Tag {
	if len(blocks) == 0 {
		return language.Und
	}

	langMap := make(map[string]int)
	for _, blk := range blocks {
		lang := whatlanggo.DetectLang(blk.Source).Iso6391()
		langMap[lang]++
	}

	var topLang string
	var topCount int
	for lang, count := range langMap {
		if count > topCount {
			topLang = lang
			topCount = count
		}
	}

	return language.All.Make(topLang)
}

// TextLanguage guesses the language of a single text payload.
func TextLanguage(text string) string {
	return whatlanggo.DetectLang(text).Iso6391()
}
