//go:build windows

package ops

import (
	"os"
)

// openFileNoFollow opens a file for writing. O_NOFOLLOW is not available on Windows;
// ValidatePath still rejects symlinks before we get here.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

// openFileNoFollowRead opens a file for reading.
func openFileNoFollowRead(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fileNotFound(path)
		}
		return nil, err
	}
	return f, nil
}
