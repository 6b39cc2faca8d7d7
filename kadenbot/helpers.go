package kadenbot

// TruncationSuffix is appended to replies that exceed the discord
// message size limit. 15 characters.
const TruncationSuffix = "... (truncated)"

// shapeReply returns s unchanged if it fits within limit characters.
// Otherwise it truncates to exactly limit characters, ending with
// [TruncationSuffix].
func shapeReply(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	suffix := []rune(TruncationSuffix)
	if limit <= len(suffix) {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(suffix)]) + TruncationSuffix
}
