// Package naming holds the naming-convention strategies of a sync rule: how a
// group key is cut out of a file or directory name, how the key is turned into
// a path in the mirror tree, and how the published copy is named.
//
// Conventions are data, not code. A rule such as
//
//	extract:  until-marker, marker "Anim"
//	mirror:   "{stem}/{key}/_preview"
//	output:   "{key}{ext}"
//
// maps "sq01_sh010_Anim_v03.mp4" to key "sq01_sh010_Anim", mirror path
// "sq01_sh010/sq01_sh010_Anim/_preview" and output name "sq01_sh010_Anim.mp4".
package naming

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrMalformedKey is returned when a key has too few parts for a template or
// expands to an unusable path.
var ErrMalformedKey = errors.New("malformed key")

// KeyExtractor derives a group key from an item name. ok is false when the
// name does not carry a key under this convention.
type KeyExtractor interface {
	Extract(name string) (key string, ok bool)
}

// PathMirror computes the slash-separated path of a key's counterpart,
// relative to the mirror root.
type PathMirror interface {
	Resolve(key string) (string, error)
}

// MarkerExtractor keeps the name up to and including the first Marker.
type MarkerExtractor struct {
	Marker string
}

func (e MarkerExtractor) Extract(name string) (string, bool) {
	idx := strings.Index(name, e.Marker)
	if e.Marker == "" || idx < 0 {
		return "", false
	}
	return name[:idx+len(e.Marker)], true
}

// WholeNameExtractor uses the name unchanged.
type WholeNameExtractor struct{}

func (WholeNameExtractor) Extract(name string) (string, bool) {
	return name, name != ""
}

// StripExtensionExtractor drops the last extension.
type StripExtensionExtractor struct{}

func (StripExtensionExtractor) Extract(name string) (string, bool) {
	key := strings.TrimSuffix(name, filepath.Ext(name))
	return key, key != ""
}

// NewKeyExtractor builds the extractor for mode.
func NewKeyExtractor(mode ExtractMode, marker string) (KeyExtractor, error) {
	switch mode {
	case UntilMarker:
		if marker == "" {
			return nil, fmt.Errorf("extract mode %q requires a marker", mode)
		}
		return MarkerExtractor{Marker: marker}, nil
	case WholeName:
		return WholeNameExtractor{}, nil
	case StripExtension:
		return StripExtensionExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extract mode %q", mode)
	}
}

// Convention splits keys into parts and derives the stem used by templates.
type Convention struct {
	Separator string
	Marker    string
	// MinParts is the number of separator-delimited parts a key needs. A
	// template referencing {partN} raises it to at least N+1.
	MinParts int
	// Vars are user-defined template tokens, e.g. {"project": "Kamarade_S_"}.
	Vars map[string]string
}

type keyContext struct {
	key   string
	stem  string
	parts []string
}

func (c Convention) context(key string) (keyContext, error) {
	if key == "" {
		return keyContext{}, fmt.Errorf("%w: empty key", ErrMalformedKey)
	}
	var parts []string
	if c.Separator != "" {
		parts = strings.Split(key, c.Separator)
	} else {
		parts = []string{key}
	}
	if len(parts) < c.MinParts {
		return keyContext{}, fmt.Errorf("%w: %q has %d parts, need %d", ErrMalformedKey, key, len(parts), c.MinParts)
	}
	return keyContext{key: key, stem: c.stem(key), parts: parts}, nil
}

// stem is the key without its trailing marker, e.g. "sh010_Anim" -> "sh010".
func (c Convention) stem(key string) string {
	if c.Marker == "" {
		return key
	}
	if c.Separator != "" {
		if s, ok := strings.CutSuffix(key, c.Separator+c.Marker); ok {
			return s
		}
	}
	if s, ok := strings.CutSuffix(key, c.Marker); ok && s != "" {
		return s
	}
	return key
}

func (c Convention) expand(t *Template, kc keyContext, ext string) (string, error) {
	return t.expand(func(name string) (string, error) {
		switch name {
		case "key":
			return kc.key, nil
		case "stem":
			return kc.stem, nil
		case "ext":
			return ext, nil
		}
		if idx, ok := partIndex(name); ok {
			if idx >= len(kc.parts) {
				return "", fmt.Errorf("%w: %q has no part %d", ErrMalformedKey, kc.key, idx)
			}
			return kc.parts[idx], nil
		}
		if v, ok := c.Vars[name]; ok {
			return v, nil
		}
		return "", fmt.Errorf("unknown template token {%s}", name)
	})
}

// TemplateMirror is the PathMirror built from a path template.
type TemplateMirror struct {
	Template   *Template
	Convention Convention
}

// NewTemplateMirror parses tmpl and checks every token against conv.
func NewTemplateMirror(tmpl string, conv Convention) (*TemplateMirror, error) {
	t, err := ParseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	if err := t.checkTokens(conv.Vars); err != nil {
		return nil, err
	}
	if n := t.maxPart + 1; n > conv.MinParts {
		conv.MinParts = n
	}
	return &TemplateMirror{Template: t, Convention: conv}, nil
}

func (m *TemplateMirror) Resolve(key string) (string, error) {
	kc, err := m.Convention.context(key)
	if err != nil {
		return "", err
	}
	rel, err := m.Convention.expand(m.Template, kc, "")
	if err != nil {
		return "", err
	}
	rel = path.Clean(strings.ReplaceAll(rel, `\`, "/"))
	if rel == "." || path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %q resolves outside the mirror root (%s)", ErrMalformedKey, key, rel)
	}
	return rel, nil
}

// OutputNamer names the published copy of a key inside the batch.
type OutputNamer struct {
	Template   *Template
	Convention Convention
}

func NewOutputNamer(tmpl string, conv Convention) (*OutputNamer, error) {
	t, err := ParseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	if err := t.checkTokens(conv.Vars); err != nil {
		return nil, err
	}
	if n := t.maxPart + 1; n > conv.MinParts {
		conv.MinParts = n
	}
	return &OutputNamer{Template: t, Convention: conv}, nil
}

// Name expands the template for key. ext is the extension of the published
// item including the dot, or empty for directories.
func (n *OutputNamer) Name(key, ext string) (string, error) {
	kc, err := n.Convention.context(key)
	if err != nil {
		return "", err
	}
	name, err := n.Convention.expand(n.Template, kc, ext)
	if err != nil {
		return "", err
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: output name %q for %q is not a single path element", ErrMalformedKey, name, key)
	}
	return name, nil
}
