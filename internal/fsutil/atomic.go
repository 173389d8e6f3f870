// Package fsutil holds the file publication primitives shared by the record
// store, the search engine and exports.
package fsutil

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrExists is returned by WriteExclusive when the destination already exists.
var ErrExists = fs.ErrExist

// tempPath returns a random sibling of path in the same directory, so the
// final link or rename never crosses filesystems.
func tempPath(path string) (string, error) {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("failed to generate temp file name: %w", err)
	}
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+"."+hex.EncodeToString(randBytes)+".tmp"), nil
}

// writeTemp writes content produced by fill to a synced temp file next to path.
func writeTemp(path string, perm os.FileMode, fill func(io.Writer) error) (string, error) {
	tmp, err := tempPath(path)
	if err != nil {
		return "", err
	}
	file, err := OpenNoFollow(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return "", err
	}

	ok := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !ok {
			os.Remove(tmp)
		}
	}()

	w := bufio.NewWriter(file)
	if err := fill(w); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	if err := file.Sync(); err != nil {
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	file = nil
	ok = true
	return tmp, nil
}

// WriteExclusive publishes content at path only if path does not exist yet.
// Content goes to a temp file first and is hard-linked into place, so a
// reader never observes a partial file and an existing destination is never
// replaced. Returns an error matching ErrExists when path is taken.
func WriteExclusive(path string, perm os.FileMode, fill func(io.Writer) error) error {
	tmp, err := writeTemp(path, perm, fill)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		return err
	}
	return nil
}

// WriteReplace atomically replaces path with content via temp file + rename.
func WriteReplace(path string, perm os.FileMode, fill func(io.Writer) error) error {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing to replace symlink: %s", path)
	}
	tmp, err := writeTemp(path, perm, fill)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Bytes adapts a byte slice to the fill callback of WriteExclusive/WriteReplace.
func Bytes(data []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
}

// Exists reports whether path exists (without following a final symlink).
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
