package classify

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls a JSON object or array out of free-form completion
// text. The ladder: whole text parses as-is, then the first markdown code
// fence, then a brace/bracket scan from the first opening delimiter to its
// balanced close. Returns false when nothing parseable is found.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	if json.Valid([]byte(text)) && (text[0] == '{' || text[0] == '[') {
		return text, true
	}

	if m := fenceRe.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if json.Valid([]byte(inner)) && inner != "" && (inner[0] == '{' || inner[0] == '[') {
			return inner, true
		}
		// A fence with broken JSON inside still deserves the brace scan.
		if candidate, ok := scanBalanced(inner); ok {
			return candidate, true
		}
	}

	return scanBalanced(text)
}

// scanBalanced finds the first '{' or '[' and walks to the matching close,
// respecting strings and escapes.
func scanBalanced(text string) (string, bool) {
	start := -1
	var open, closing byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			closing = '}'
			if open == '[' {
				closing = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closing:
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}
