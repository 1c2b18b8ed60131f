package publish

import (
	"fmt"

	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// Status is the result of publishing one Copy decision.
type Status int

const (
	Copied Status = iota
	Placeholder
	CopyFailed
)

var statusToString = map[Status]string{
	Copied:      "copied",
	Placeholder: "placeholder",
	CopyFailed:  "failed",
}

var stringToStatus = util.InvertMap(statusToString)

func (s Status) String() string {
	if str, ok := statusToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_status(%d)", s)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, ok := stringToStatus[string(b)]
	if !ok {
		return fmt.Errorf("invalid publish status: %q", string(b))
	}
	*s = v
	return nil
}
