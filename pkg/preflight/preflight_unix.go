//go:build !windows

package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// platformCheckVolume has nothing to check on Unix; paths have no volume name.
func platformCheckVolume(string) error { return nil }

// platformCheckMounted fails when path resides on the same device as "/",
// which means the share it should live on is not mounted.
func platformCheckMounted(path string) error {
	// Output roots below the home directory are local on purpose.
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" && strings.HasPrefix(path, homeDir) {
		return nil
	}

	var rootStat, pathStat unix.Stat_t
	if err := unix.Stat("/", &rootStat); err != nil {
		return fmt.Errorf("failed to stat root: %w", err)
	}
	if err := unix.Stat(path, &pathStat); err != nil {
		return fmt.Errorf("failed to stat output path: %w", err)
	}

	if pathStat.Dev == rootStat.Dev && path != "/" {
		return fmt.Errorf("path '%s' is on the root filesystem (system disk). "+
			"Ensure the shared drive is mounted", path)
	}
	return nil
}
