package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// DisplayName cleans a user-provided name for embedding in notification
// payloads and system messages. Queries are parameterized, so this only
// strips what breaks rendering.
func DisplayName(input string) string {
	input = StripControlCharacters(input)
	input = htmlTagRegex.ReplaceAllString(input, "")
	return strings.TrimSpace(input)
}

// StripControlCharacters removes control characters from a string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
