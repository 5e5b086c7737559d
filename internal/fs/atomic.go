package fs

import (
	"os"
	"path/filepath"
)

// TempSuffix is appended to the target path for the in-progress file.
const TempSuffix = ".tmp"

// WriteFileAtomic replaces path with data so that a crash leaves either the
// old or the new contents in place, never a mix.
//
// data is written to path+TempSuffix, fsynced, renamed onto path, and the
// containing directory is fsynced. On any failure the temporary file is
// removed.
func WriteFileAtomic(fsys FileSystem, path string, data []byte, perm os.FileMode) (err error) {
	if fsys == nil {
		fsys = Default
	}

	tmpName := path + TempSuffix
	f, err := fsys.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = fsys.Remove(tmpName)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = fsys.Rename(tmpName, path); err != nil {
		return err
	}

	return SyncDir(fsys, filepath.Dir(path))
}

// SyncDir fsyncs a directory so that a preceding rename is durable.
// Platforms that cannot open directories for sync are tolerated.
func SyncDir(fsys FileSystem, dir string) error {
	if fsys == nil {
		fsys = Default
	}
	d, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return nil //nolint:nilerr // directory sync is unsupported on some platforms
	}
	defer d.Close()

	if err := d.Sync(); err != nil && !os.IsPermission(err) {
		return err
	}
	return nil
}
