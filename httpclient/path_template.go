package httpclient

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// PathTemplate is a parsed path such as "/users/{id}/posts/{post_id}".
// Parse once with ParsePathTemplate and expand per call.
type PathTemplate struct {
	raw   string
	parts []templatePart
	names []string
}

type templatePart struct {
	literal     string
	placeholder string
}

// PathBinding is the raw value bound to a placeholder.
type PathBinding struct {
	Value string
	// MultiSegment allows "/" in Value to produce additional path segments.
	MultiSegment bool
}

// ParsePathTemplate parses a template. Placeholders are `{name}`; names must
// be non-empty, unique and free of braces.
func ParsePathTemplate(s string) (*PathTemplate, error) {
	t := &PathTemplate{raw: s}
	seen := make(map[string]bool)

	rest := s
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		closing := strings.IndexByte(rest, '}')
		if open < 0 {
			if closing >= 0 {
				return nil, fmt.Errorf("path template %q: unmatched '}'", s)
			}
			t.parts = append(t.parts, templatePart{literal: rest})
			break
		}
		if closing >= 0 && closing < open {
			return nil, fmt.Errorf("path template %q: unmatched '}'", s)
		}
		if open > 0 {
			t.parts = append(t.parts, templatePart{literal: rest[:open]})
		}
		rest = rest[open+1:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return nil, fmt.Errorf("path template %q: unterminated placeholder", s)
		}
		name := rest[:end]
		switch {
		case name == "":
			return nil, fmt.Errorf("path template %q: empty placeholder", s)
		case strings.ContainsRune(name, '{'):
			return nil, fmt.Errorf("path template %q: nested placeholder", s)
		case seen[name]:
			return nil, fmt.Errorf("path template %q: duplicate placeholder {%s}", s, name)
		}
		seen[name] = true
		t.names = append(t.names, name)
		t.parts = append(t.parts, templatePart{placeholder: name})
		rest = rest[end+1:]
	}

	return t, nil
}

// MustParsePathTemplate is like ParsePathTemplate but panics on error.
func MustParsePathTemplate(s string) *PathTemplate {
	t, err := ParsePathTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template as written.
func (t *PathTemplate) String() string { return t.raw }

// Placeholders returns the placeholder names in template order.
func (t *PathTemplate) Placeholders() []string {
	return append([]string(nil), t.names...)
}

// Has reports whether the template contains placeholder name.
func (t *PathTemplate) Has(name string) bool {
	for _, n := range t.names {
		if n == name {
			return true
		}
	}
	return false
}

var errInvalidSegment = errors.New("value would form an empty or dot path segment")

// Expand substitutes every placeholder. Each placeholder needs exactly one
// binding and every binding must be used.
func (t *PathTemplate) Expand(bindings map[string]PathBinding) (string, error) {
	var missing []string
	for _, name := range t.names {
		if _, ok := bindings[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("path template %q: unbound placeholder(s) %s", t.raw, strings.Join(missing, ", "))
	}
	if len(bindings) != len(t.names) {
		var extra []string
		for name := range bindings {
			if !t.Has(name) {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return "", fmt.Errorf("path template %q: unused binding(s) %s", t.raw, strings.Join(extra, ", "))
	}

	var b strings.Builder
	b.Grow(len(t.raw) + 16)
	for _, p := range t.parts {
		if p.placeholder == "" {
			b.WriteString(p.literal)
			continue
		}
		seg, err := escapeBinding(bindings[p.placeholder])
		if err != nil {
			return "", fmt.Errorf("path template %q: {%s}: %w", t.raw, p.placeholder, err)
		}
		b.WriteString(seg)
	}
	return b.String(), nil
}

// ExpandStrings expands with single-segment bindings.
func (t *PathTemplate) ExpandStrings(values map[string]string) (string, error) {
	bindings := make(map[string]PathBinding, len(values))
	for k, v := range values {
		bindings[k] = PathBinding{Value: v}
	}
	return t.Expand(bindings)
}

func escapeBinding(b PathBinding) (string, error) {
	if !b.MultiSegment {
		if isDotSegment(b.Value) {
			return "", errInvalidSegment
		}
		return url.PathEscape(b.Value), nil
	}

	segments := strings.Split(b.Value, "/")
	for i, s := range segments {
		if isDotSegment(s) {
			return "", errInvalidSegment
		}
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/"), nil
}

func isDotSegment(s string) bool {
	return s == "" || s == "." || s == ".."
}
