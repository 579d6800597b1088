package extract

import (
	"regexp"
	"strings"
)

// Shared skip rules deciding which texts are worth sending to a backend.
// A text is skipped when it is clearly not narrative content: resource
// names, bare numbers, code identifiers, engine-internal markers.

var resourceExtensions = []string{
	"mp3", "wav", "ogg", "opus", "m4a", "flac", "aac", "wma",
	"mp4", "mkv", "webm", "avi", "mov", "wmv", "flv",
	"png", "jpg", "jpeg", "webp", "bmp", "gif", "tga", "dds", "psd", "ico", "svg",
	"ttf", "otf", "woff", "woff2",
	"rpa", "rpyc", "rpy",
	"json", "xml", "yaml", "yml", "txt", "csv", "ini", "cfg",
}

var (
	resourceNameRe = regexp.MustCompile(`(?i)^[\w\-. ]+\.(?:` + strings.Join(resourceExtensions, "|") + `)$`)
	pureNumberRe   = regexp.MustCompile(`^[\d\s.,\-+:;%$#@!?*/\\()\[\]{}]+$`)
	identifierRe   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	storeAccessRe  = regexp.MustCompile(`(?i)^(?:persistent|store|config|renpy)\.[\w.]+$`)
	placeholderRe  = regexp.MustCompile(`\{[^{}]*\}|\[[^\[\]]*\]`)
)

// Common interface words that are all-lowercase yet still need translation.
var uiKeywords = map[string]struct{}{
	"start": {}, "save": {}, "load": {}, "settings": {}, "options": {},
	"config": {}, "pref": {}, "yes": {}, "no": {}, "ok": {}, "back": {},
	"return": {}, "skip": {}, "auto": {}, "menu": {}, "history": {},
	"gallery": {}, "about": {}, "quit": {}, "continue": {}, "retry": {},
	"next": {}, "previous": {}, "exit": {}, "resume": {}, "language": {},
	"help": {}, "pause": {}, "new": {}, "game": {}, "main": {}, "title": {},
	"music": {}, "sound": {}, "voice": {}, "play": {}, "stop": {},
	"on": {}, "off": {},
}

// ShouldSkip reports whether text should never be extracted for translation.
func ShouldSkip(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}

	lower := strings.ToLower(trimmed)
	if _, ok := uiKeywords[lower]; ok {
		return false
	}

	if resourceNameRe.MatchString(trimmed) {
		return true
	}
	if pureNumberRe.MatchString(trimmed) {
		return true
	}
	if storeAccessRe.MatchString(trimmed) {
		return true
	}

	// Strip tags and interpolations first; a string that is nothing but
	// placeholders has no translatable content.
	bare := strings.TrimSpace(placeholderRe.ReplaceAllString(trimmed, ""))
	if bare == "" {
		return true
	}

	if containsCJK(bare) {
		return false
	}

	// All-lowercase single identifiers are variable or label names, not prose.
	if identifierRe.MatchString(bare) && bare == strings.ToLower(bare) && !strings.Contains(bare, " ") {
		return true
	}

	return !containsLetter(bare)
}

func containsLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func containsCJK(s string) bool {
	for _, r := range s {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF: // CJK unified
			return true
		case r >= 0x3400 && r <= 0x4DBF: // CJK extension A
			return true
		case r >= 0x3040 && r <= 0x309F: // hiragana
			return true
		case r >= 0x30A0 && r <= 0x30FF: // katakana
			return true
		case r >= 0xAC00 && r <= 0xD7AF: // hangul
			return true
		}
	}
	return false
}
