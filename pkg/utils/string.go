package utils

import "unicode/utf8"

const ellipsis = "..."

// Truncate cuts s to at most limit runes, marking the cut with "..." when
// there is room for it. A non-positive limit yields "". Titles and descriptions from the API are mostly CJK,
// so byte lengths would split characters.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= len(ellipsis) {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-len(ellipsis)]) + ellipsis
}
