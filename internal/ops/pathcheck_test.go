package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/kapy/internal/config"
	"github.com/hpungsan/kapy/internal/errors"
)

func TestValidateOutputPath_TraversalRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	exports := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../backup.jsonl"},
		{"deep traversal", "../../etc/backup.jsonl"},
		{"mid-path traversal", "/tmp/../etc/backup.jsonl"},
		{"hidden in path", exports + "/../../../etc/shadow.jsonl"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOutputPath(tc.path, ExtJSONL, exports, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidateOutputPath_ExtensionRequired(t *testing.T) {
	cfg := config.DefaultConfig()
	exports := t.TempDir()

	tests := []struct {
		name string
		path string
		ext  string
	}{
		{"no extension", "out", ExtTSV},
		{"jsonl for search", "out.jsonl", ExtTSV},
		{"tsv for export", "out.tsv", ExtJSONL},
		{"txt", "out.txt", ExtJSONL},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOutputPath(filepath.Join(exports, tc.path), tc.ext, exports, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidateOutputPath_DirectoryRestriction(t *testing.T) {
	cfg := config.DefaultConfig()
	exports := t.TempDir()

	if err := ValidateOutputPath(filepath.Join(exports, "ok.tsv"), ExtTSV, exports, cfg); err != nil {
		t.Errorf("path directly in exports dir rejected: %v", err)
	}

	err := ValidateOutputPath(filepath.Join(t.TempDir(), "elsewhere.tsv"), ExtTSV, exports, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for path outside allowed dirs, got: %v", err)
	}
}

func TestValidateOutputPath_AllowedPaths(t *testing.T) {
	allowed := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{allowed, "relative/ignored"}

	if err := ValidateOutputPath(filepath.Join(allowed, "x.jsonl"), ExtJSONL, t.TempDir(), cfg); err != nil {
		t.Errorf("expected success for path in AllowedPaths, got: %v", err)
	}
}

func TestValidateOutputPath_AllowUnsafePaths(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	nested := filepath.Join(t.TempDir(), "a")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := ValidateOutputPath(filepath.Join(nested, "x.tsv"), ExtTSV, t.TempDir(), cfg); err != nil {
		t.Errorf("expected success with AllowUnsafePaths=true, got: %v", err)
	}
}

func TestValidateOutputPath_NestedPathRejected(t *testing.T) {
	exports := t.TempDir()
	cfg := config.DefaultConfig()

	sub := filepath.Join(exports, "subdir")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	err := ValidateOutputPath(filepath.Join(sub, "out.tsv"), ExtTSV, exports, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestValidateOutputPath_SymlinkRejected(t *testing.T) {
	for _, unsafe := range []bool{false, true} {
		exports := t.TempDir()
		cfg := config.DefaultConfig()
		cfg.AllowUnsafePaths = unsafe

		target := filepath.Join(t.TempDir(), "secret.jsonl")
		if err := os.WriteFile(target, []byte("{}"), 0600); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(exports, "out.jsonl")
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("cannot create symlink: %v", err)
		}

		err := ValidateOutputPath(link, ExtJSONL, exports, cfg)
		if !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("unsafe=%v: expected ErrInvalidRequest, got: %v", unsafe, err)
		}
	}
}

func TestContainsTraversal(t *testing.T) {
	tests := []struct {
		path     string
		contains bool
	}{
		{"/home/user/file.txt", false},
		{"../file.txt", true},
		{"/home/../etc/passwd", true},
		{"./file.txt", false},
		{"file..name.txt", false},
		{"/tmp/a/b/../c.jsonl", true},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if got := containsTraversal(tc.path); got != tc.contains {
				t.Errorf("containsTraversal(%q) = %v, want %v", tc.path, got, tc.contains)
			}
		})
	}
}

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"channel", "telegram/chat/42", "telegram-chat-42"},
		{"backslash", "path\\to\\file", "path-to-file"},
		{"double dots", "foo..bar", "foo-bar"},
		{"traversal attempt", "../../../etc/passwd", "etc-passwd"},
		{"control chars", "foo\x01\x02bar", "foobar"},
		{"empty after sanitize", "../../..", "unnamed"},
		{"multiple dashes collapse", "a---b", "a-b"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeForFilename(tc.input); got != tc.expected {
				t.Errorf("SanitizeForFilename(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}
