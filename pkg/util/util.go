package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Permission constants for file and directory modes.
const (
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms is used for batch directories and placeholders (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms is used for the lock and config files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
	// UserGroupWritableFilePerms is used for files that live inside a shared batch (rw-rw-r--).
	UserGroupWritableFilePerms os.FileMode = 0664
)

// WithUserWritePermission ensures the owner-write bit is set so a published
// copy of a read-only render can still be replaced or pruned later.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// IsHostCaseInsensitiveFS reports whether the host OS uses a case-insensitive filesystem by default.
func IsHostCaseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// ExpandPath expands a leading tilde to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// AbsPath expands and cleans path into an absolute, OS-native path.
// An empty path stays empty.
func AbsPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute path for %s: %w", path, err)
	}
	return abs, nil
}

// InvertMap takes a map[K]V and returns a map[V]K. Used to build reverse
// lookup tables for string enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}

// MergeAndDeduplicate combines slices, keeping the first occurrence of each item in order.
func MergeAndDeduplicate(slices ...[]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, s := range slices {
		for _, item := range s {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			result = append(result, item)
		}
	}
	return result
}

// NormalizePath turns an OS path into a forward-slash key.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

// DenormalizePath turns a forward-slash key back into an OS path.
func DenormalizePath(p string) string {
	return filepath.FromSlash(p)
}

// ByteCountIEC formats a byte count with binary units, e.g. 1.5 GiB.
func ByteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
