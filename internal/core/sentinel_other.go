//go:build !linux

package core

import "os"

// Non-Linux platforms lack the extended-attribute API librepo uses
// for its resume sentinel; a sidecar marker file carries the same
// meaning (spec.md §6.2) without depending on filesystem xattr support.
func sentinelPath(path string) string { return path + ".lr-in-progress" }

func markInProgress(path string) error {
	f, err := os.Create(sentinelPath(path))
	if err != nil {
		return err
	}
	return f.Close()
}

func clearInProgress(path string) error {
	err := os.Remove(sentinelPath(path))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func hasInProgress(path string) bool {
	_, err := os.Stat(sentinelPath(path))
	return err == nil
}
