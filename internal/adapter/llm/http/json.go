package http

import (
	"regexp"
	"strings"
)

// jsonBlockRegex matches a fenced code block, greedy from the first opening
// backticks to the LAST closing backticks so a nested code fence inside a
// suggested-fix string doesn't truncate the match early.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*([\\s\\S]*)```")

// ExtractJSONFromMarkdown extracts JSON from a markdown code fence
// (```json ... ``` or ``` ... ```). If no fence is found the input is
// returned trimmed, on the assumption it is already raw JSON.
func ExtractJSONFromMarkdown(text string) string {
	matches := jsonBlockRegex.FindStringSubmatch(text)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return strings.TrimSpace(text)
}

// ExtractFirstJSONObject returns the substring spanning the first top-level
// '{' to its matching '}', tracking string/escape state so braces inside
// string values don't confuse the scan. §4.7 requires extracting "the first
// {...} substring" and rejecting a top-level array outright.
func ExtractFirstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
