package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/efact/internal/errors"
)

// ValidateOutputPath checks a destination for a saved document.
// It rejects:
// 1. Path traversal (.. sequences)
// 2. A missing parent directory
// 3. A symlinked parent directory or destination
// 4. An existing destination unless overwrite is set
func ValidateOutputPath(path string, overwrite bool) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewValidation("path is required")
	}
	if containsTraversal(path) {
		return errors.NewValidation("path must not contain directory traversal (..)")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return errors.NewValidation(fmt.Sprintf("invalid path: %v", err))
	}

	parentDir := filepath.Dir(absPath)
	info, err := os.Lstat(parentDir)
	if err != nil {
		return errors.NewValidation(fmt.Sprintf("directory %s does not exist", parentDir))
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return errors.NewValidation("parent directory must not be a symlink")
	}
	if !info.IsDir() {
		return errors.NewValidation(fmt.Sprintf("%s is not a directory", parentDir))
	}

	if info, err := os.Lstat(absPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return errors.NewValidation("path must not be a symlink")
		}
		if info.IsDir() {
			return errors.NewValidation("path is a directory")
		}
		if !overwrite {
			return errors.NewValidation(fmt.Sprintf("%s already exists; pass overwrite to replace it", path))
		}
	}
	return nil
}

// containsTraversal checks if a path contains ".." as a path component.
func containsTraversal(path string) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// SanitizeForFilename replaces characters that are unsafe in file names.
func SanitizeForFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "document"
	}
	return out
}
