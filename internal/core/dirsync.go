package core

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

func validateDirectoryPath(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) && strings.Contains(cleanPath, "..") {
		return errors.New("unsafe directory path (contains directory traversal): " + path)
	}
	return nil
}

// DirSync calls fsync(2) on the directory, to make a preceding
// os.Create/os.Rename durable. Used after materializing repomd.xml,
// record files, and the fastest-mirror cache.
func DirSync(d string) error {
	if err := validateDirectoryPath(d); err != nil {
		return errors.Wrap(err, "DirSync")
	}
	f, err := os.OpenFile(d, os.O_RDONLY, 0o755) //nolint:gosec // path validated above
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func dirSyncFunc(path string, info os.FileInfo, err error) error {
	if err != nil {
		return err
	}
	if !info.Mode().IsDir() {
		return nil
	}
	return DirSync(path)
}

// DirSyncTree calls DirSync recursively on a directory tree rooted at d.
func DirSyncTree(d string) error {
	return filepath.Walk(d, dirSyncFunc)
}
