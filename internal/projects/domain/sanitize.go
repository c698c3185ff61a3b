package domain

import (
	"path"
	"strings"
)

const maxFilenameLen = 255

// SanitizeFilename reduces a client-supplied filename to a storage-safe
// basename: path components and traversal sequences are stripped, the
// character set is restricted to [A-Za-z0-9_.- ] and the length capped
// at 255 runes preserving the extension. An empty result falls back to
// "unnamed_file".
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")

	// Drop any path prefix, Windows or POSIX style.
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	// Windows drive remnants like "C:".
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, "..", "")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name = strings.Trim(b.String(), ". ")

	if len(name) > maxFilenameLen {
		ext := path.Ext(name)
		if len(ext) >= maxFilenameLen {
			// The extension alone blows the cap; keep the head of the
			// whole name instead of slicing the stem negative.
			name = name[:maxFilenameLen]
		} else {
			stem := strings.TrimSuffix(name, ext)
			name = stem[:maxFilenameLen-len(ext)] + ext
		}
	}

	if name == "" {
		return "unnamed_file"
	}
	return name
}
