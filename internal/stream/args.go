package stream

import (
	"encoding/json"
	"strings"
)

// RawArgsKey holds the verbatim argument text when lenient parsing
// fails. Consumers should treat such args as low-confidence.
const RawArgsKey = "_raw"

// ParseArgs parses a tool-call argument blob. The upstream emits
// python-repr dictionaries (single quotes, True/False/None), so strict
// JSON is tried first and a literal translation second. On failure the
// raw text is captured under RawArgsKey instead of being discarded; the
// second return value is false for such low-confidence results.
func ParseArgs(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}, true
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(text), &args); err == nil {
		return args, true
	}
	if err := json.Unmarshal([]byte(pythonToJSON(text)), &args); err == nil {
		return args, true
	}
	return map[string]any{RawArgsKey: text}, false
}

// pythonToJSON rewrites python literal syntax into JSON: single-quoted
// strings become double-quoted and bare True/False/None become their
// JSON spellings. Content inside strings is never rewritten.
func pythonToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prevWord := false
	i := 0
	for i < len(s) {
		c := s[i]
		switch c {
		case '\'':
			b.WriteByte('"')
			i++
			for i < len(s) {
				c = s[i]
				if c == '\\' && i+1 < len(s) {
					// \' needs no escape once the quotes are double.
					if s[i+1] == '\'' {
						b.WriteByte('\'')
					} else {
						b.WriteByte('\\')
						b.WriteByte(s[i+1])
					}
					i += 2
					continue
				}
				if c == '\'' {
					i++
					break
				}
				if c == '"' {
					b.WriteString(`\"`)
					i++
					continue
				}
				b.WriteByte(c)
				i++
			}
			b.WriteByte('"')
			prevWord = false
		case '"':
			b.WriteByte(c)
			i++
			for i < len(s) {
				c = s[i]
				b.WriteByte(c)
				if c == '\\' && i+1 < len(s) {
					b.WriteByte(s[i+1])
					i += 2
					continue
				}
				i++
				if c == '"' {
					break
				}
			}
			prevWord = false
		default:
			if !prevWord {
				if repl, n := pyLiteral(s[i:]); n > 0 {
					b.WriteString(repl)
					i += n
					prevWord = false
					continue
				}
			}
			b.WriteByte(c)
			prevWord = isWordByte(c)
			i++
		}
	}
	return b.String()
}

func pyLiteral(s string) (string, int) {
	for lit, repl := range map[string]string{"True": "true", "False": "false", "None": "null"} {
		if strings.HasPrefix(s, lit) {
			if len(s) == len(lit) || !isWordByte(s[len(lit)]) {
				return repl, len(lit)
			}
		}
	}
	return "", 0
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
