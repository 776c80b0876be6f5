package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/espterm/types"
)

// readLocal reads a file for upload, rejecting anything the device
// would refuse before reading it all into memory.
func readLocal(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("read %s: is a directory", path)
	}
	if fi.Size() > types.MaxFileSize {
		return nil, fmt.Errorf("read %s: %d bytes exceeds the %d byte limit", path, fi.Size(), types.MaxFileSize)
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied path is the point
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// writeLocal writes data via a temp file in the target directory and a
// rename, so an interrupted download never leaves a partial file.
func writeLocal(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { //nolint:gosec // regular user file
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
