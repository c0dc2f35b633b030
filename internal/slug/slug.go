// Package slug derives filesystem-safe names for result sets and entries.
package slug

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxEntryBytes bounds the byte length of an entry slug, leaving room for
// extensions and temp-file suffixes under the usual 255-byte name limit.
const MaxEntryBytes = 120

// Query turns free-form search terms into a lowercase, hyphenated ASCII slug.
// Accented letters lose their marks; anything else outside [A-Za-z0-9_-] is
// dropped. Returns "query" when nothing survives.
func Query(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r > unicode.MaxASCII:
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	out := strings.Trim(strings.Join(strings.Fields(b.String()), "-"), "-")
	if out == "" {
		return "query"
	}
	return out
}

// Entry names the per-entry artifact directory: the document id when known,
// otherwise the title. Separators, whitespace, control characters and
// characters reserved on common filesystems become "_", with runs collapsed.
func Entry(documentID, title string) string {
	base := strings.TrimSpace(documentID)
	if base == "" {
		base = strings.TrimSpace(title)
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range base {
		if unsafeRune(r) {
			r = '_'
		}
		if r == '_' && lastUnderscore {
			continue
		}
		lastUnderscore = r == '_'
		b.WriteRune(r)
	}

	out := truncateBytes(strings.Trim(b.String(), "_."), MaxEntryBytes)
	out = strings.TrimRight(out, "_.")
	if out == "" {
		return "entry"
	}
	return out
}

func unsafeRune(r rune) bool {
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return r == utf8.RuneError || unicode.IsSpace(r) || unicode.IsControl(r)
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
