package hints_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pixelgardenlabs/shotsync/pkg/hints"
)

func TestHints(t *testing.T) {
	errNothing := hints.New("nothing to publish")
	errPlain := errors.New("disk full")

	t.Run("Wrap nil", func(t *testing.T) {
		if hints.Wrap(nil) != nil {
			t.Error("Wrap(nil) should return nil")
		}
	})

	t.Run("IsHint", func(t *testing.T) {
		cases := []struct {
			name string
			err  error
			want bool
		}{
			{"nil", nil, false},
			{"plain", errPlain, false},
			{"hint", errNothing, true},
			{"wrapped plain", hints.Wrap(errPlain), true},
			{"hint behind fmt wrap", fmt.Errorf("publish: %w", errNothing), true},
			{"plain behind fmt wrap", fmt.Errorf("publish: %w", errPlain), false},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if got := hints.IsHint(tc.err); got != tc.want {
					t.Errorf("IsHint() = %v, want %v", got, tc.want)
				}
			})
		}
	})

	t.Run("Is", func(t *testing.T) {
		wrapped := fmt.Errorf("rule previews: %w", errNothing)
		if !hints.Is(wrapped, errNothing) {
			t.Error("expected wrapped hint to match its sentinel")
		}
		if hints.Is(errPlain, errPlain) {
			t.Error("a plain error must not match as a hint")
		}
	})
}
