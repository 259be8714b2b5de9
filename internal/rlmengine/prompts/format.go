package prompts

import (
	"fmt"
	"strings"
)

// format substitutes Python str.format()-style single-brace placeholders:
// "{name}" is replaced with vars[name], "{{" and "}}" are unescaped to a
// literal "{" and "}". A referenced name absent from vars, or a brace that
// isn't part of a valid placeholder or escape, is an error — the same
// failure mode str.format() has for a malformed template.
func format(tmpl string, vars map[string]string) (string, error) {
	var b strings.Builder
	n := len(tmpl)
	for i := 0; i < n; {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < n && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("prompts: unterminated placeholder at offset %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			val, ok := vars[name]
			if !ok {
				return "", fmt.Errorf("prompts: unknown placeholder %q", name)
			}
			b.WriteString(val)
			i += end + 2
		case '}':
			if i+1 < n && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", fmt.Errorf("prompts: unescaped '}' at offset %d", i)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// hasPlaceholder reports whether tmpl references {name} anywhere, ignoring
// whether that occurrence is itself inside an escaped region — good enough
// for load-time validation, which only needs to catch an author forgetting
// a variable entirely.
func hasPlaceholder(tmpl, name string) bool {
	return strings.Contains(tmpl, "{"+name+"}")
}
