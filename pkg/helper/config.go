package helper

import (
	"os"
	"path/filepath"
)

// DefaultConfigDir is the last place searched for configuration files.
const DefaultConfigDir = "/etc/pushgate"

// GetCfgPath returns the path to the configuration file.
//
// Priority:
// 1. An absolute filename is returned as-is.
// 2. $PUSHGATE_CONFIG_DIR/{filename} when the variable is set and the file exists.
// 3. ./{filename}, then ./configs/{filename}.
// 4. DefaultConfigDir/{filename}.
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	candidates := make([]string, 0, 3)
	if dir := os.Getenv("PUSHGATE_CONFIG_DIR"); dir != "" {
		candidates = append(candidates, filepath.Join(dir, filename))
	}
	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		candidates = append(candidates,
			filepath.Join(cwd, filename),
			filepath.Join(cwd, "configs", filename))
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs
		}
	}
	return filepath.Join(DefaultConfigDir, filename)
}
