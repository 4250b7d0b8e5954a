package util

import (
	"os"
	"path/filepath"
	"strings"
)

func ExpandUser(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		path = strings.Replace(path, "~", os.Getenv("HOME"), 1)
	}
	return path
}

// EnsureDir expands ~ and creates the directory (and parents) if missing.
func EnsureDir(path string) (string, error) {
	path = filepath.Clean(ExpandUser(path))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
