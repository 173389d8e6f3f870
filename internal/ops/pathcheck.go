package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/kapy/internal/config"
	"github.com/hpungsan/kapy/internal/errors"
)

// Output file extensions.
const (
	ExtTSV   = ".tsv"
	ExtJSONL = ".jsonl"
)

// ValidateOutputPath checks a search or export destination.
// It checks:
// 1. Path traversal (.. sequences)
// 2. Extension (ext required)
// 3. Directory restrictions (file must be DIRECTLY in exportsDir or allowed_paths, no subdirectories)
// 4. Symlink safety (parent dir must not be a symlink, file must not be a symlink)
//
// The "no subdirectories" rule leaves no intermediate directory that could be
// swapped for a symlink between validation and open.
func ValidateOutputPath(path, ext, exportsDir string, cfg *config.Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewInvalidRequest("path is required")
	}

	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != ext {
		return errors.NewInvalidRequest(fmt.Sprintf("path must have %s extension", ext))
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	// Unsafe mode skips directory checks but not symlink checks.
	if cfg != nil && cfg.AllowUnsafePaths {
		return rejectSymlink(absPath, "path must not be a symlink")
	}

	allowedDirs, err := getAllowedDirs(exportsDir, cfg)
	if err != nil {
		return err
	}

	parentDir := filepath.Dir(absPath)
	if !isDirectlyInAllowedDir(parentDir, allowedDirs) {
		return errors.NewInvalidRequest(
			fmt.Sprintf("file must be directly in an allowed directory (no subdirectories); allowed: %v",
				allowedDirs))
	}

	if err := rejectSymlink(parentDir, "parent directory must not be a symlink"); err != nil {
		return err
	}
	return rejectSymlink(absPath, "path must not be a symlink")
}

func rejectSymlink(path, msg string) error {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest(msg)
	}
	return nil
}

// getAllowedDirs returns exportsDir plus absolute allowed_paths, cleaned.
// Existing symlinked entries are resolved to their targets.
func getAllowedDirs(exportsDir string, cfg *config.Config) ([]string, error) {
	dirs := []string{exportsDir}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}

	result := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(filepath.Clean(d))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			abs = resolved
		}
		result = append(result, abs)
	}
	return result, nil
}

// isDirectlyInAllowedDir checks if parentDir exactly matches one of the allowed directories.
func isDirectlyInAllowedDir(parentDir string, allowedDirs []string) bool {
	parentDir = filepath.Clean(parentDir)
	for _, dir := range allowedDirs {
		if parentDir == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}

// SanitizeForFilename makes s safe for use in a file name.
func SanitizeForFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.ReplaceAll(s, "..", "-")

	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	s = result.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if s == "" {
		s = "unnamed"
	}
	return s
}

// defaultOutputPath returns <exportsDir>/<prefix>-<name>-<timestamp><ext>.
func defaultOutputPath(exportsDir, prefix, name, ext string, e *Env) string {
	timestamp := e.now().UTC().Format("2006-01-02T150405.000")
	filename := fmt.Sprintf("%s-%s-%s%s", prefix, SanitizeForFilename(name), timestamp, ext)
	return filepath.Join(exportsDir, filename)
}

// ensureExportsDir creates the exports directory when the destination is in it.
func ensureExportsDir(path, exportsDir string) error {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	expAbs, err := filepath.Abs(exportsDir)
	if err != nil {
		return errors.NewInternal(err)
	}
	if filepath.Dir(abs) != expAbs {
		return nil
	}
	if err := os.MkdirAll(expAbs, 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create exports directory: %w", err))
	}
	return nil
}
