//go:build !windows

package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckOutputAccessible_Unix(t *testing.T) {
	t.Run("Error - No Permission on Ancestor", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission checks do not apply to root")
		}
		grandparent := t.TempDir()
		unreadableAncestor := filepath.Join(grandparent, "unreadable_ancestor")
		if err := os.Mkdir(unreadableAncestor, 0000); err != nil {
			t.Fatalf("failed to create unreadable ancestor dir: %v", err)
		}
		t.Cleanup(func() { os.Chmod(unreadableAncestor, 0755) })

		outputDir := filepath.Join(unreadableAncestor, "non_existent_child", "dailies")

		err := CheckOutputAccessible(outputDir, false)
		if err == nil {
			t.Fatal("expected a permission error, but got nil")
		}
		if !strings.Contains(err.Error(), "cannot access") {
			t.Errorf("expected a 'cannot access' error, but got: %v", err)
		}
	})

	t.Run("Mount Check Skipped for Home Dir", func(t *testing.T) {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			t.Fatalf("could not get user home directory: %v", err)
		}
		outputDir := filepath.Join(homeDir, "shotsync-test-output")
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			t.Logf("could not create test dir in home, skipping: %v", err)
			t.SkipNow()
		}
		t.Cleanup(func() { os.RemoveAll(outputDir) })

		if err := CheckOutputAccessible(outputDir, true); err != nil {
			t.Errorf("expected no error for a path in the home directory, but got: %v", err)
		}
	})

	t.Run("Mount Check Not Requested", func(t *testing.T) {
		// Same layout as a ghost directory, but the caller does not require a mount.
		if err := CheckOutputAccessible(t.TempDir(), false); err != nil {
			t.Errorf("expected no error, but got: %v", err)
		}
	})
}

func TestCheckOutputWritable_Unix(t *testing.T) {
	t.Run("Error - Output not writable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission checks do not apply to root")
		}
		unwritableDir := filepath.Join(t.TempDir(), "unwritable")
		if err := os.Mkdir(unwritableDir, 0555); err != nil {
			t.Fatalf("failed to create unwritable dir: %v", err)
		}
		t.Cleanup(func() { os.Chmod(unwritableDir, 0755) })

		err := CheckOutputWritable(unwritableDir)
		if err == nil {
			t.Fatal("expected an error for unwritable output, but got nil")
		}
		if !strings.Contains(err.Error(), "not writable") {
			t.Errorf("expected error about 'not writable', but got: %v", err)
		}
	})
}
