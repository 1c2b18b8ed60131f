package reconcile

import (
	"fmt"
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// Action is the verdict for one key.
type Action int

const (
	Skip Action = iota
	Copy
)

var actionToString = map[Action]string{Skip: "skip", Copy: "copy"}
var stringToAction map[string]Action

// Reason explains a Decision.
type Reason int

const (
	// Newer: the mirror item is newer than the reference by more than the margin.
	Newer Reason = iota
	// IncompleteAllowed: newer but with fewer counted files, copied because the override is on.
	IncompleteAllowed
	MalformedKey
	NotFound
	NotNewer
	IncompleteSource
	ReadError
)

var reasonToString = map[Reason]string{
	Newer:             "Newer",
	IncompleteAllowed: "IncompleteAllowed",
	MalformedKey:      "MalformedKey",
	NotFound:          "NotFound",
	NotNewer:          "NotNewer",
	IncompleteSource:  "IncompleteSource",
	ReadError:         "ReadError",
}
var stringToReason map[string]Reason

func init() {
	stringToAction = util.InvertMap(actionToString)
	stringToReason = util.InvertMap(reasonToString)
}

func (a Action) String() string {
	if s, ok := actionToString[a]; ok {
		return s
	}
	return fmt.Sprintf("unknown_action(%d)", int(a))
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
func (a *Action) UnmarshalText(b []byte) error {
	v, ok := stringToAction[string(b)]
	if !ok {
		return fmt.Errorf("invalid action: %q", b)
	}
	*a = v
	return nil
}

func (r Reason) String() string {
	if s, ok := reasonToString[r]; ok {
		return s
	}
	return fmt.Sprintf("unknown_reason(%d)", int(r))
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
func (r *Reason) UnmarshalText(b []byte) error {
	v, ok := stringToReason[string(b)]
	if !ok {
		return fmt.Errorf("invalid reason: %q", b)
	}
	*r = v
	return nil
}

// Decision is the structured outcome of reconciling one key. Paths are
// OS-native. SourcePath and OutputName are set only for Copy decisions.
type Decision struct {
	Rule   string `json:"rule"`
	Key    string `json:"key"`
	Action Action `json:"action"`
	Reason Reason `json:"reason"`

	ReferencePath    string    `json:"referencePath"`
	ReferenceModTime time.Time `json:"referenceModTime"`
	MirrorPath       string    `json:"mirrorPath,omitempty"`
	MirrorItemPath   string    `json:"mirrorItemPath,omitempty"`
	MirrorModTime    time.Time `json:"mirrorModTime,omitzero"`

	ReferenceCount int `json:"referenceCount,omitempty"`
	MirrorCount    int `json:"mirrorCount,omitempty"`

	SourcePath  string `json:"sourcePath,omitempty"`
	SourceIsDir bool   `json:"sourceIsDir,omitempty"`
	OutputName  string `json:"outputName,omitempty"`

	Err error `json:"-"`
}

// ErrText returns the underlying error text, or "" when there is none.
func (d Decision) ErrText() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

func (d Decision) IsCopy() bool { return d.Action == Copy }

// CopyDecisions filters ds down to the Copy decisions, keeping order.
func CopyDecisions(ds []Decision) []Decision {
	var out []Decision
	for _, d := range ds {
		if d.IsCopy() {
			out = append(out, d)
		}
	}
	return out
}
