//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// platformCheckVolume verifies that the drive or network share root of path
// exists, e.g. "Z:\" for "Z:\dailies". A bare drive letter or "." is rejected.
func platformCheckVolume(path string) error {
	if isUnsafeRoot(path) {
		return fmt.Errorf("output root '%s' is ambiguous; use an absolute directory", path)
	}
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}

	checkVol := volume
	if !strings.HasSuffix(checkVol, string(filepath.Separator)) {
		checkVol += string(filepath.Separator)
	}
	checkVol = filepath.Clean(checkVol)

	if _, err := os.Stat(checkVol); os.IsNotExist(err) {
		return fmt.Errorf("volume root does not exist: %s. Ensure the drive is connected", checkVol)
	}
	return nil
}

// platformCheckMounted is covered by the volume check on Windows.
func platformCheckMounted(string) error { return nil }

// isUnsafeRoot reports whether path is the current directory, the root of the
// current drive or a bare drive letter such as "C:".
func isUnsafeRoot(path string) bool {
	if path == "." || path == string(filepath.Separator) {
		return true
	}
	vol := filepath.VolumeName(path)
	isBareDrive := vol != "" && path == vol && !strings.Contains(vol, string(filepath.Separator))
	isCleanedBareDrive := vol != "" && path == vol+"."
	return isBareDrive || isCleanedBareDrive
}
