package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lumik/renloc/internal/script"
)

// PatchName returns the artifact filename for a target language, e.g.
// "patch_fr.rpy".
func PatchName(lang string) string {
	return fmt.Sprintf("patch_%s.rpy", lang)
}

var (
	patchHeaderRe  = regexp.MustCompile(`^translate\s+(\S+)\s+strings:`)
	patchPosRe     = regexp.MustCompile(`^\s*#\s*(\S+):(\d+)\s*$`)
	patchOldRe     = regexp.MustCompile(`^\s*old\s+"(.*)"\s*$`)
	patchNewRe     = regexp.MustCompile(`^\s*new\s+"(.*)"\s*$`)
	patchStaleRe   = regexp.MustCompile(`^\s*#\s*stale\s*$`)
	patchCommentRe = regexp.MustCompile(`^\s*#`)
)

const patchGeneratedBy = "# Generated translation patch. Stale entries are kept for review."

// LoadPatch reads a previously written artifact. A missing file yields an
// empty patch, so first runs need no special casing.
func LoadPatch(path string) (Patch, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Patch{}, nil
	}
	if err != nil {
		return Patch{}, err
	}

	var patch Patch
	var pending Entry
	var havePos bool
	for _, line := range strings.Split(string(data), "\n") {
		if m := patchHeaderRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			patch.Lang = m[1]
			continue
		}
		if patchStaleRe.MatchString(line) {
			pending.Stale = true
			continue
		}
		if m := patchPosRe.FindStringSubmatch(line); m != nil {
			pending.File = m[1]
			pending.Line, _ = strconv.Atoi(m[2])
			havePos = true
			continue
		}
		if m := patchOldRe.FindStringSubmatch(line); m != nil {
			pending.Old = script.Unescape(m[1])
			continue
		}
		if m := patchNewRe.FindStringSubmatch(line); m != nil {
			if pending.Old == "" && !havePos {
				continue
			}
			pending.New = script.Unescape(m[1])
			patch.Entries = append(patch.Entries, pending)
			pending = Entry{}
			havePos = false
			continue
		}
		if patchCommentRe.MatchString(line) || strings.TrimSpace(line) == "" {
			continue
		}
	}
	return patch, nil
}

// WritePatch renders the artifact in the engine's strings-block format and
// writes it atomically via a rename.
func WritePatch(path string, patch Patch) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(patchGeneratedBy + "\n\n")
	b.WriteString(fmt.Sprintf("translate %s strings:\n\n", patch.Lang))
	for _, e := range patch.Entries {
		if e.Stale {
			b.WriteString("    # stale\n")
		}
		b.WriteString(fmt.Sprintf("    # %s:%d\n", e.File, e.Line))
		b.WriteString(fmt.Sprintf("    old \"%s\"\n", script.Escape(e.Old)))
		b.WriteString(fmt.Sprintf("    new \"%s\"\n\n", script.Escape(e.New)))
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
