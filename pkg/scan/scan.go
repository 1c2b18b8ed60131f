// Package scan walks a source tree and yields the candidate items of a rule:
// every regular file, or every directory whose name matches a predicate.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

// ErrRootNotFound is returned when the root of a scan is missing, unreadable
// or not a directory. It is fatal for the rule.
var ErrRootNotFound = errors.New("root not found")

var errStopWalk = errors.New("stop walk")

// Mode selects what the scanner yields.
type Mode int

const (
	Files Mode = iota
	Dirs
)

// Item is one scanned file or directory. The modification time is captured
// once here and never re-read downstream.
type Item struct {
	Path    string
	Name    string
	ModTime time.Time
	IsDir   bool
}

// Options configures a single scan.
type Options struct {
	Mode Mode
	// DirMatch selects directories in Dirs mode. Matched directories are yielded
	// and not descended into.
	DirMatch func(name string) bool
	// OnItem is called for every yielded item, e.g. to count them.
	OnItem func(Item)
}

type Scanner struct {
	fs afero.Fs
}

func NewScanner(fs afero.Fs) *Scanner {
	return &Scanner{fs: fs}
}

// Scan checks that root is a readable directory and returns a lazy sequence of
// items below it. Entries whose metadata cannot be read are logged and skipped.
// Symlinks are never followed. The sequence ends early when ctx is done; callers
// check ctx.Err() afterwards.
func (s *Scanner) Scan(ctx context.Context, root string, opts Options) (iter.Seq[Item], error) {
	if err := s.checkRoot(root); err != nil {
		return nil, err
	}

	return func(yield func(Item) bool) {
		walkErr := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
			if ctx.Err() != nil {
				return errStopWalk
			}
			if err != nil {
				plog.Warn("SKIP", "reason", "cannot read entry", "path", path, "error", err)
				return nil
			}
			if path == root {
				return nil
			}

			isDir := info.IsDir()
			switch {
			case opts.Mode == Files && info.Mode().IsRegular():
			case opts.Mode == Dirs && isDir && opts.DirMatch != nil && opts.DirMatch(info.Name()):
			default:
				return nil
			}

			item := Item{Path: path, Name: info.Name(), ModTime: info.ModTime(), IsDir: isDir}
			if opts.OnItem != nil {
				opts.OnItem(item)
			}
			if !yield(item) {
				return errStopWalk
			}
			if isDir {
				return filepath.SkipDir
			}
			return nil
		})
		if walkErr != nil && !errors.Is(walkErr, errStopWalk) {
			plog.Warn("Scan ended early", "root", root, "error", walkErr)
		}
	}, nil
}

func (s *Scanner) checkRoot(root string) error {
	info, err := s.fs.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}

	f, err := s.fs.Open(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s is not readable: %v", ErrRootNotFound, root, err)
	}
	return nil
}
