// Package hints marks errors that signal "this step had nothing to do" rather
// than a failure. A stage returns a hint when it was disabled or found no work;
// the runner logs those at debug level and carries on, while real errors are
// surfaced. Callers test with IsHint or Is and never need the producer's
// sentinel types.
package hints

import "errors"

type hintErr struct {
	err error
}

func (h *hintErr) Error() string {
	if h == nil || h.err == nil {
		return "unknown hint"
	}
	return h.err.Error()
}

func (h *hintErr) IsHint() bool  { return true }
func (h *hintErr) Unwrap() error { return h.err }

// New returns a hint carrying msg.
func New(msg string) error {
	return &hintErr{err: errors.New(msg)}
}

// Wrap marks err as a hint. Wrap(nil) is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &hintErr{err: err}
}

// IsHint reports whether any error in the chain is a hint.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}

// Is reports whether err is a hint and matches target.
func Is(err, target error) bool {
	return IsHint(err) && errors.Is(err, target)
}
