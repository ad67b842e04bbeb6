package expr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MissingVarError is returned by Render when a placeholder has no value.
type MissingVarError struct {
	Name string
}

func (e *MissingVarError) Error() string {
	return fmt.Sprintf("undefined template variable %q", e.Name)
}

// Render substitutes {name} placeholders with values from vars.
// "{{" and "}}" produce literal braces.
func Render(template string, vars map[string]any) (string, error) {
	if !strings.ContainsAny(template, "{}") { // fast path: no template markers
		return template, nil
	}

	var sb strings.Builder
	sb.Grow(len(template))
	runes := []rune(template)

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch ch {
		case '{':
			if i+1 < len(runes) && runes[i+1] == '{' {
				sb.WriteRune('{')
				i++
				continue
			}
			end := i + 1
			for end < len(runes) && runes[end] != '}' && runes[end] != '{' {
				end++
			}
			if end >= len(runes) || runes[end] != '}' {
				return "", fmt.Errorf("unclosed placeholder at position %d", i)
			}
			name := strings.TrimSpace(string(runes[i+1 : end]))
			if name == "" {
				return "", fmt.Errorf("empty placeholder at position %d", i)
			}
			val, ok := vars[name]
			if !ok {
				return "", &MissingVarError{Name: name}
			}
			sb.WriteString(FormatValue(val))
			i = end
		case '}':
			if i+1 < len(runes) && runes[i+1] == '}' {
				i++
			}
			sb.WriteRune('}')
		default:
			sb.WriteRune(ch)
		}
	}
	return sb.String(), nil
}

// Placeholders lists the distinct placeholder names in template, in order of appearance.
func Placeholders(template string) []string {
	var names []string
	seen := make(map[string]struct{})
	runes := []rune(template)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '{' {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '{' {
			i++
			continue
		}
		end := i + 1
		for end < len(runes) && runes[end] != '}' && runes[end] != '{' {
			end++
		}
		if end >= len(runes) || runes[end] != '}' {
			continue
		}
		name := strings.TrimSpace(string(runes[i+1 : end]))
		if _, dup := seen[name]; name != "" && !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		i = end
	}
	return names
}

// FormatValue renders a variable value as prompt text. Composite values are JSON encoded.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any, []string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
