package naming

import (
	"fmt"

	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// Kind selects what the scanner yields for a rule.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// ExtractMode selects the KeyExtractor for a rule.
type ExtractMode string

const (
	UntilMarker    ExtractMode = "until-marker"
	WholeName      ExtractMode = "whole-name"
	StripExtension ExtractMode = "strip-extension"
)

// MirrorSelect decides how the modification time of a mirror candidate is read.
// With SelectPath the candidate itself is the item. With SelectNewest the candidate is a
// directory and its newest file matching the rule's mirror pattern is the item.
type MirrorSelect string

const (
	SelectPath   MirrorSelect = "path"
	SelectNewest MirrorSelect = "newest"
)

// PublishFrom decides which side of a Copy decision is copied into the batch.
type PublishFrom string

const (
	FromMirror    PublishFrom = "mirror"
	FromReference PublishFrom = "reference"
)

var kindToString = map[Kind]string{KindFile: "file", KindDir: "dir"}
var extractModeToString = map[ExtractMode]string{
	UntilMarker:    "until-marker",
	WholeName:      "whole-name",
	StripExtension: "strip-extension",
}
var mirrorSelectToString = map[MirrorSelect]string{SelectPath: "path", SelectNewest: "newest"}
var publishFromToString = map[PublishFrom]string{FromMirror: "mirror", FromReference: "reference"}

var (
	stringToKind         map[string]Kind
	stringToExtractMode  map[string]ExtractMode
	stringToMirrorSelect map[string]MirrorSelect
	stringToPublishFrom  map[string]PublishFrom
)

func init() {
	stringToKind = util.InvertMap(kindToString)
	stringToExtractMode = util.InvertMap(extractModeToString)
	stringToMirrorSelect = util.InvertMap(mirrorSelectToString)
	stringToPublishFrom = util.InvertMap(publishFromToString)
}

func ParseKind(s string) (Kind, error) {
	if k, ok := stringToKind[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("invalid kind: %q. Must be 'file' or 'dir'", s)
}

func ParseExtractMode(s string) (ExtractMode, error) {
	if m, ok := stringToExtractMode[s]; ok {
		return m, nil
	}
	return "", fmt.Errorf("invalid extract mode: %q. Must be 'until-marker', 'whole-name' or 'strip-extension'", s)
}

func ParseMirrorSelect(s string) (MirrorSelect, error) {
	if m, ok := stringToMirrorSelect[s]; ok {
		return m, nil
	}
	return "", fmt.Errorf("invalid mirror select: %q. Must be 'path' or 'newest'", s)
}

func ParsePublishFrom(s string) (PublishFrom, error) {
	if p, ok := stringToPublishFrom[s]; ok {
		return p, nil
	}
	return "", fmt.Errorf("invalid publish source: %q. Must be 'mirror' or 'reference'", s)
}

// The text (un)marshalers serve both encoding/json and go-toml.

func (k Kind) MarshalText() ([]byte, error) { return []byte(k), nil }
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (m ExtractMode) MarshalText() ([]byte, error) { return []byte(m), nil }
func (m *ExtractMode) UnmarshalText(b []byte) error {
	v, err := ParseExtractMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m MirrorSelect) MarshalText() ([]byte, error) { return []byte(m), nil }
func (m *MirrorSelect) UnmarshalText(b []byte) error {
	v, err := ParseMirrorSelect(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (p PublishFrom) MarshalText() ([]byte, error) { return []byte(p), nil }
func (p *PublishFrom) UnmarshalText(b []byte) error {
	v, err := ParsePublishFrom(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
