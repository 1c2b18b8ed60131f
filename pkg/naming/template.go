package naming

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Template is a string with {token} placeholders.
type Template struct {
	raw      string
	segments []segment
	maxPart  int
}

type segment struct {
	text    string
	isToken bool
}

// ParseTemplate splits s into literal text and tokens. Braces must be balanced
// and tokens non-empty.
func ParseTemplate(s string) (*Template, error) {
	if s == "" {
		return nil, fmt.Errorf("template is empty")
	}
	t := &Template{raw: s, maxPart: -1}
	rest := s
	for rest != "" {
		open := strings.IndexAny(rest, "{}")
		if open < 0 {
			t.segments = append(t.segments, segment{text: rest})
			break
		}
		if rest[open] == '}' {
			return nil, fmt.Errorf("template %q: unexpected '}'", s)
		}
		if open > 0 {
			t.segments = append(t.segments, segment{text: rest[:open]})
		}
		end := strings.IndexAny(rest[open+1:], "{}")
		if end < 0 || rest[open+1+end] != '}' {
			return nil, fmt.Errorf("template %q: unterminated token", s)
		}
		name := strings.TrimSpace(rest[open+1 : open+1+end])
		if name == "" {
			return nil, fmt.Errorf("template %q: empty token", s)
		}
		if idx, ok := partIndex(name); ok && idx > t.maxPart {
			t.maxPart = idx
		}
		t.segments = append(t.segments, segment{text: name, isToken: true})
		rest = rest[open+1+end+1:]
	}
	return t, nil
}

func (t *Template) String() string { return t.raw }

// Tokens returns the token names in order of appearance.
func (t *Template) Tokens() []string {
	var out []string
	for _, seg := range t.segments {
		if seg.isToken {
			out = append(out, seg.text)
		}
	}
	return out
}

func (t *Template) checkTokens(vars map[string]string) error {
	for _, name := range t.Tokens() {
		switch name {
		case "key", "stem", "ext":
			continue
		}
		if _, ok := partIndex(name); ok {
			continue
		}
		if _, ok := vars[name]; !ok {
			return fmt.Errorf("template %q: unknown token {%s}", t.raw, name)
		}
	}
	return nil
}

func (t *Template) expand(lookup func(name string) (string, error)) (string, error) {
	var b strings.Builder
	for _, seg := range t.segments {
		if !seg.isToken {
			b.WriteString(seg.text)
			continue
		}
		v, err := lookup(seg.text)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// partIndex parses "part3" into 3.
func partIndex(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "part")
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Matcher matches item names against case-insensitive glob patterns. An empty
// Matcher matches everything.
type Matcher struct {
	patterns []string
}

func NewMatcher(patterns []string) (Matcher, error) {
	m := Matcher{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			return Matcher{}, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

func (m Matcher) Match(name string) bool {
	if len(m.patterns) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, p := range m.patterns {
		if ok, _ := path.Match(p, lower); ok {
			return true
		}
	}
	return false
}

func (m Matcher) Empty() bool { return len(m.patterns) == 0 }
