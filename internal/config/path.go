package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDatabasePath is where the database lives when database.path is unset.
const DefaultDatabasePath = "~/.local/share/spice/sentinel.db"

// ExpandPath resolves a leading ~ to the home directory and expands $VARS.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// DatabasePath returns the expanded database location, falling back to
// DefaultDatabasePath.
func DatabasePath(configured string) string {
	if strings.TrimSpace(configured) == "" {
		configured = DefaultDatabasePath
	}
	return ExpandPath(configured)
}
