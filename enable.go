package supervise

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Enable marks the unit as started automatically: it removes the unit's down
// file and links the unit directory into the scan directory so a Tree started
// at boot picks it up. Enabling an already enabled unit is a no-op.
func Enable(unitDir, scanDir string) error {
	absUnit, err := filepath.Abs(unitDir)
	if err != nil {
		return fmt.Errorf("resolving unit dir: %w", err)
	}

	if err := os.Remove(filepath.Join(absUnit, DownFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing down file: %w", err)
	}

	if scanDir == "" {
		return nil
	}
	if err := os.MkdirAll(scanDir, DirMode); err != nil {
		return fmt.Errorf("creating scan dir: %w", err)
	}

	link := filepath.Join(scanDir, filepath.Base(absUnit))
	if target, err := os.Readlink(link); err == nil {
		if target == absUnit {
			return nil
		}
		return fmt.Errorf("scan link %s already points to %s", link, target)
	}

	if err := os.Symlink(absUnit, link); err != nil && !os.IsExist(err) {
		return fmt.Errorf("linking unit into scan dir: %w", err)
	}
	return nil
}

// Disable marks the unit as not started automatically: it writes the unit's
// down file and removes the unit's link from the scan directory. Disabling an
// already disabled unit is a no-op. A running daemon is not touched; use a
// Client to stop the process.
func Disable(unitDir, scanDir string) error {
	absUnit, err := filepath.Abs(unitDir)
	if err != nil {
		return fmt.Errorf("resolving unit dir: %w", err)
	}

	if err := renameio.WriteFile(filepath.Join(absUnit, DownFile), nil, FileMode); err != nil {
		return fmt.Errorf("writing down file: %w", err)
	}

	if scanDir == "" {
		return nil
	}
	link := filepath.Join(scanDir, filepath.Base(absUnit))
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlinking unit from scan dir: %w", err)
	}
	return nil
}

// Enabled reports whether the unit starts automatically (no down file)
func Enabled(unitDir string) bool {
	_, err := os.Stat(filepath.Join(unitDir, DownFile))
	return os.IsNotExist(err)
}
