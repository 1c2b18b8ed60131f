// Package lockfile serializes runs that publish into the same output root.
// Artists on different workstations share the output drive, so the lock is a
// plain file on that drive, kept fresh by a heartbeat and taken over once stale.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// LockFileName is the name of the lock file created in the output root.
// The '~' prefix marks it as temporary.
const LockFileName = ".~shotsync.lock"

const (
	defaultHeartbeatInterval = 1 * time.Minute
	maxAcquireAttempts       = 3
	retryPause               = 100 * time.Millisecond
	readRetryPause           = 50 * time.Millisecond

	guardSuffix = ".takeover"
)

// Owner identifies the run that wants the lock.
type Owner struct {
	AppID string
	Rule  string
	RunID string
}

// LockContent is the JSON document stored in the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	User       string    `json:"user,omitempty"`
	AppID      string    `json:"appID"`
	Rule       string    `json:"rule,omitempty"`
	RunID      string    `json:"runID,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"`
}

// ErrLockActive is returned when another run holds a fresh lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	User      string
	AppID     string
	Rule      string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	who := e.Hostname
	if e.User != "" {
		who = e.User + "@" + e.Hostname
	}
	return fmt.Sprintf("output is locked by %s (PID %d, App: %s, rule %q), last updated %s ago",
		who, e.PID, e.AppID, e.Rule, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned internally when another process wins a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile indicates that the lock file is empty or not valid JSON.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

type options struct {
	heartbeatInterval time.Duration
	staleTimeout      time.Duration
}

// Option tunes Acquire.
type Option func(*options)

// WithHeartbeat sets the heartbeat interval. A lock counts as stale after three
// missed heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		o.heartbeatInterval = d
		o.staleTimeout = 3 * d
	}
}

func newOptions(opts []Option) options {
	o := options{heartbeatInterval: defaultHeartbeatInterval, staleTimeout: 3 * defaultHeartbeatInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Lock is a held lock file.
type Lock struct {
	path    string
	content LockContent
	opts    options
	ctx     context.Context // stops the heartbeat
	cancel  context.CancelFunc
	mu      sync.Mutex
	held    bool
}

// Acquire takes the lock in dirPath. ctx bounds the acquisition only; the
// heartbeat runs until Release. It returns (nil, *ErrLockActive) when another
// run holds a fresh lock.
func Acquire(ctx context.Context, dirPath string, owner Owner, opts ...Option) (*Lock, error) {
	o := newOptions(opts)
	absLockFilePath := filepath.Join(dirPath, LockFileName)

	for range maxAcquireAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := tryAcquire(absLockFilePath, owner, o)
		if err == nil {
			lock.start()
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		content, readErr := readLockContentSafely(ctx, absLockFilePath)
		switch {
		case errors.Is(readErr, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", absLockFilePath, "error", readErr)
		case readErr != nil:
			// Gone between create and read, or a transient share error.
			if err := pause(ctx, retryPause); err != nil {
				return nil, err
			}
			continue
		default:
			elapsed := time.Since(content.LastUpdate)
			if elapsed < o.staleTimeout {
				return nil, &ErrLockActive{
					PID:       content.PID,
					Hostname:  content.Hostname,
					User:      content.User,
					AppID:     content.AppID,
					Rule:      content.Rule,
					TimeSince: elapsed,
				}
			}
			plog.Warn("Found stale lock, attempting takeover", "host", content.Hostname, "pid", content.PID, "age", elapsed)
		}

		lock, err = attemptStaleLockTakeover(ctx, absLockFilePath, owner, o)
		if err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				plog.Warn("Failed to attempt lock takeover, retrying", "error", err)
			}
			if err := pause(ctx, retryPause); err != nil {
				return nil, err
			}
			continue
		}
		lock.start()
		return lock, nil
	}

	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAcquireAttempts)
}

// Content returns what this lock wrote to disk.
func (l *Lock) Content() LockContent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.content
}

// Release stops the heartbeat and removes the lock file. It is safe to call twice.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}
	l.cancel()
	l.cleanup()
	l.held = false
}

func tryAcquire(absLockFilePath string, owner Owner, o options) (*Lock, error) {
	f, err := os.OpenFile(absLockFilePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := newContent(owner)
	if err != nil {
		_ = os.Remove(absLockFilePath)
		return nil, err
	}

	l := newLock(absLockFilePath, content, o)
	if err := writeLockContent(f, content); err != nil {
		l.cleanup()
		return nil, err
	}
	return l, nil
}

func newContent(owner Owner) (LockContent, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return LockContent{}, err
	}
	return LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		User:       currentUser(),
		AppID:      owner.AppID,
		Rule:       owner.Rule,
		RunID:      owner.RunID,
		LastUpdate: time.Now().UTC(),
		Nonce:      uuid.NewString(),
	}, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func newLock(absLockFilePath string, content LockContent, o options) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lock{
		path:    absLockFilePath,
		content: content,
		opts:    o,
		ctx:     ctx,
		cancel:  cancel,
		held:    true,
	}
}

// start removes temp files left by crashed runs and starts the heartbeat.
func (l *Lock) start() {
	cleanupTempLockFiles(l.path, l.opts.staleTimeout)
	go l.heartbeat()
}

// attemptStaleLockTakeover replaces a stale or corrupt lock. Takeovers are
// serialized by a guard file created with O_EXCL; the guard holder re-reads the
// lock, removes it only if it is still stale and then creates a fresh one with
// O_EXCL like any other acquirer. A plain create can only win while the path is
// empty, so a fresh lock is never removed and at most one run holds it.
func attemptStaleLockTakeover(ctx context.Context, absLockFilePath string, owner Owner, o options) (*Lock, error) {
	guardPath := absLockFilePath + guardSuffix
	g, err := os.OpenFile(guardPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		if os.IsExist(err) {
			removeAbandonedGuard(guardPath, o.staleTimeout)
			return nil, ErrLostRace
		}
		return nil, fmt.Errorf("failed to create takeover guard: %w", err)
	}
	g.Close()
	defer func() {
		if err := os.Remove(guardPath); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove takeover guard", "path", guardPath, "error", err)
		}
	}()

	content, err := readLockContentSafely(ctx, absLockFilePath)
	switch {
	case os.IsNotExist(err), errors.Is(err, ErrCorruptLockFile):
	case err != nil:
		return nil, err
	case time.Since(content.LastUpdate) < o.staleTimeout:
		// Renewed or replaced since it was judged stale.
		return nil, ErrLostRace
	}

	if err := os.Remove(absLockFilePath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale lock: %w", err)
	}
	lock, err := tryAcquire(absLockFilePath, owner, o)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLostRace
		}
		return nil, err
	}
	plog.Debug("Successfully took over stale lock")
	return lock, nil
}

// removeAbandonedGuard deletes a guard left by a run that crashed mid-takeover.
func removeAbandonedGuard(guardPath string, staleTimeout time.Duration) {
	info, err := os.Stat(guardPath)
	if err != nil || time.Since(info.ModTime()) < staleTimeout {
		return
	}
	plog.Warn("Removing abandoned lock takeover guard", "path", guardPath, "age", time.Since(info.ModTime()))
	if err := os.Remove(guardPath); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove takeover guard", "path", guardPath, "error", err)
	}
}

func (l *Lock) cleanup() {
	if err := os.Remove(l.path); err != nil {
		if !os.IsNotExist(err) {
			plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		}
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

func (l *Lock) heartbeat() {
	ticker := time.NewTicker(l.opts.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.content.LastUpdate = time.Now().UTC()
			content := l.content
			l.mu.Unlock()
			if err := updateLockFileAtomic(l.path, content); err != nil {
				// Try again on the next tick.
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// updateLockFileAtomic writes content to a temp file in the lock directory and
// renames it over the lock file, so readers never see a partial file.
func updateLockFileAtomic(absLockFilePath string, content LockContent) error {
	dir := filepath.Dir(absLockFilePath)
	tmpF, err := os.CreateTemp(dir, filepath.Base(absLockFilePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmpF.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", tmpF.Name(), "error", err)
		}
	}()

	if err := writeLockContent(tmpF, content); err != nil {
		tmpF.Close()
		return err
	}
	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		return err
	}
	// Windows refuses to rename an open file.
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpF.Name(), absLockFilePath); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// cleanupTempLockFiles removes temp files of crashed runs. Only files older
// than staleTimeout go, a younger one may belong to a running heartbeat.
func cleanupTempLockFiles(absLockFilePath string, staleTimeout time.Duration) {
	pattern := filepath.Join(filepath.Dir(absLockFilePath), filepath.Base(absLockFilePath)+".*.tmp")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		plog.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
		return
	}

	threshold := time.Now().Add(-staleTimeout)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		plog.Debug("Removing old temporary lock file", "path", match, "age", time.Since(info.ModTime()))
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}

func writeLockContent(w io.Writer, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readLockContentSafely reads the lock file, retrying a few times when it is
// empty or half written. A persistently bad file yields ErrCorruptLockFile.
func readLockContentSafely(ctx context.Context, absLockFilePath string) (LockContent, error) {
	var lastErr, lastCorruptErr error
	for range 3 {
		data, err := os.ReadFile(absLockFilePath)
		switch {
		case os.IsNotExist(err):
			return LockContent{}, err
		case err != nil:
			lastErr = err
		case len(data) == 0:
			lastCorruptErr = errors.New("lock file is empty")
		default:
			var content LockContent
			if lastCorruptErr = json.Unmarshal(data, &content); lastCorruptErr == nil {
				return content, nil
			}
		}
		if err := pause(ctx, readRetryPause); err != nil {
			return LockContent{}, err
		}
	}

	if lastCorruptErr != nil {
		return LockContent{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastCorruptErr)
	}
	return LockContent{}, fmt.Errorf("failed to read valid lock content: %w", lastErr)
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
