//go:build !windows

package fsutil

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/kapy/internal/errors"
)

// OpenNoFollow opens a file with O_NOFOLLOW so the final path component is
// never a symlink. O_CLOEXEC prevents FD leaks across exec.
//
// Directory components are not protected; callers validate those with
// ops.ValidatePath first.
func OpenNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot write to symlink")
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// OpenNoFollowRead opens a file for reading with O_NOFOLLOW.
func OpenNoFollowRead(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot read from symlink")
		}
		if stderrors.Is(err, syscall.ENOENT) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}
