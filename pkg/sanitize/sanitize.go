package sanitize

import (
	"strings"
	"unicode"
)

// Filename removes characters from a display file name that could break
// Content-Disposition headers or smuggle path components.
func Filename(filename string) string {
	filename = strings.ReplaceAll(filename, "\x00", "")

	// Header injection prevention
	filename = strings.ReplaceAll(filename, "\n", "")
	filename = strings.ReplaceAll(filename, "\r", "")

	// Prevents breaking out of Content-Disposition quoting
	filename = strings.ReplaceAll(filename, `"`, "")
	filename = strings.ReplaceAll(filename, `'`, "")

	// Path separators
	filename = strings.ReplaceAll(filename, `\`, "")
	filename = strings.ReplaceAll(filename, "/", "")

	result := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	result = strings.TrimSpace(result)
	result = strings.Trim(result, ".")

	if result == "" {
		return "download"
	}

	if len(result) > 200 {
		result = result[:200]
	}

	return result
}

// ForHeader sanitizes a file name for direct use in an HTTP header,
// replacing non-ASCII runes for maximum client compatibility.
func ForHeader(filename string) string {
	safe := Filename(filename)

	return strings.Map(func(r rune) rune {
		if r > 127 {
			return '_'
		}
		return r
	}, safe)
}
