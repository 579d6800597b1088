package script

// BlockKind identifies how a translatable block is expressed in the file.
type BlockKind string

const (
	// BlockDialogue is a commented source line followed by a code line
	// carrying the translation payload, e.g.
	//	# e "Hello"
	//	e "Bonjour"
	BlockDialogue BlockKind = "dialogue"

	// BlockOldNew is an old/new string pair inside a
	// "translate <lang> strings:" section, e.g.
	//	old "Hello"
	//	new "Bonjour"
	BlockOldNew BlockKind = "old_new"
)

// Block is one text-bearing node of a Document. It references the verbatim
// line that holds the replaceable payload; everything else in the file is
// opaque and passes through the pipeline untouched.
type Block struct {
	Kind BlockKind

	// Source is the unescaped source-language text.
	Source string
	// Current is the unescaped payload currently occupying the translation
	// slot. Empty when the block has never been translated.
	Current string

	// Tag is the speaker or statement tag of a dialogue block, if any.
	Tag string
	// Label is the enclosing "translate <lang> <label>:" header, or
	// "strings" for old/new sections.
	Label string

	// SourceLine and PayloadLine are 0-based indexes into Document.Lines.
	SourceLine  int
	PayloadLine int
}

// Document is a parsed translation file: the verbatim lines plus the ordered
// text-bearing blocks found in them. Line order and non-payload content are
// never modified.
type Document struct {
	Path   string
	Lines  []string
	Blocks []Block

	// Newline is the line terminator observed on read; empty means "\n".
	Newline string
	// MissingFinalNewline records an input that did not end with a line
	// terminator, so the render does not add one.
	MissingFinalNewline bool
}

// Reader parses translation files into Documents.
type Reader interface {
	Read(path string) (*Document, error)
}

// Writer renders Documents back to their file form.
type Writer interface {
	Write(path string, doc *Document) error
}
