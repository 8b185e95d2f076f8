//go:build linux

package core

import "golang.org/x/sys/unix"

const sentinelXattr = "user.Librepo.DownloadInProgress"

// markInProgress sets the resume sentinel extended attribute on path,
// per spec.md §6.2's "Resume sentinel".
func markInProgress(path string) error {
	return unix.Setxattr(path, sentinelXattr, []byte{}, 0)
}

// clearInProgress removes the sentinel on successful completion.
func clearInProgress(path string) error {
	err := unix.Removexattr(path, sentinelXattr)
	if err != nil && err == unix.ENODATA {
		return nil
	}
	return err
}

// hasInProgress reports whether the sentinel is present.
func hasInProgress(path string) bool {
	_, err := unix.Getxattr(path, sentinelXattr, nil)
	return err == nil
}
