// Package preflight provides the checks that run before a rule touches any tree.
// They are stateless and idempotent, with one exception: the writable check
// creates the output root when it is missing.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pixelgardenlabs/shotsync/pkg/scan"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

const writeTestFileName = ".shotsync-writetest.tmp"

// Validator runs the checks of a plan. It is the seam the engine swaps in tests.
type Validator struct{}

func (Validator) Run(p *Plan, sourceRoot, mirrorRoot, outputRoot string) error {
	return Run(p, sourceRoot, mirrorRoot, outputRoot)
}

// Run performs the checks enabled in p for the roots of one rule.
func Run(p *Plan, sourceRoot, mirrorRoot, outputRoot string) error {
	if p.SourceAccessible {
		if err := CheckRootAccessible("source", sourceRoot); err != nil {
			return err
		}
	}
	if p.MirrorAccessible {
		if err := CheckRootAccessible("mirror", mirrorRoot); err != nil {
			return err
		}
	}
	if p.OutputAccessible {
		if err := CheckOutputAccessible(outputRoot, p.RequireMountedOutput); err != nil {
			return err
		}
	}
	if p.OutputWritable && !p.DryRun {
		if err := CheckOutputWritable(outputRoot); err != nil {
			return err
		}
	}
	return nil
}

// CheckRootAccessible validates that a source or mirror root exists and is a
// directory. Failures wrap scan.ErrRootNotFound.
func CheckRootAccessible(kind, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s root %s does not exist", scan.ErrRootNotFound, kind, path)
		}
		return fmt.Errorf("%w: cannot stat %s root %s: %v", scan.ErrRootNotFound, kind, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s root %s is not a directory", scan.ErrRootNotFound, kind, path)
	}
	return nil
}

// CheckOutputAccessible makes sure the output root is usable before anything is
// created in it. It gives friendlier errors than a failing MkdirAll.
//
// The checks include:
//  1. On Windows, the drive or network share (e.g. "Z:", "\\Server\Share") must exist.
//  2. An existing output root must be a directory.
//  3. A missing output root needs an accessible parent directory.
//  4. With requireMount on Unix, the deepest existing directory must not be on the
//     root filesystem, so an unmounted share is not filled up as a "ghost" directory.
func CheckOutputAccessible(path string, requireMount bool) error {
	if err := platformCheckVolume(path); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		ancestor, err := deepestExistingAncestor(path)
		if err != nil {
			return err
		}
		if requireMount {
			if err := platformCheckMounted(ancestor); err != nil {
				return err
			}
		}
		if ancestor != filepath.Dir(path) {
			return fmt.Errorf("output root and its parent directory do not exist: %s", filepath.Dir(path))
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access output root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output root exists but is not a directory: %s", path)
	}
	if requireMount {
		return platformCheckMounted(path)
	}
	return nil
}

// CheckOutputWritable creates the output root if needed and proves it is
// writable by creating and removing a temporary file.
func CheckOutputWritable(path string) error {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return fmt.Errorf("output root exists but is not a directory: %s", path)
	}
	if err := os.MkdirAll(path, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create output root %s: %w", path, err)
	}

	tempFile := filepath.Join(path, writeTestFileName)
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("output root %s is not writable: %w", path, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// deepestExistingAncestor walks up from path until it finds a directory that
// exists. A permission error on the way is returned as is.
func deepestExistingAncestor(path string) (string, error) {
	ancestor := path
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return ancestor, nil
		}
		_, err := os.Stat(parent)
		if err == nil {
			return parent, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("cannot access ancestor directory %s: %w", parent, err)
		}
		ancestor = parent
	}
}
