package notify

import "strings"

// RenderTemplate substitutes every {{identifier}} token in tmpl with the
// corresponding payload value. It is total: unknown identifiers resolve to
// the empty string, malformed braces pass through literally, and no input
// can make it fail. The grammar is fixed ({{ ident }} with optional inner
// spaces); this is deliberately not a general template language.
func RenderTemplate(tmpl string, fields map[string]string) string {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		open := strings.Index(tmpl[i:], "{{")
		if open < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		open += i

		end := strings.Index(tmpl[open+2:], "}}")
		if end < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		end += open + 2

		b.WriteString(tmpl[i:open])
		name := strings.TrimSpace(tmpl[open+2 : end])
		if isIdentifier(name) {
			b.WriteString(fields[name])
		} else {
			// Not a placeholder; keep the braces as literal text.
			b.WriteString(tmpl[open : end+2])
		}
		i = end + 2
	}
	return b.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
