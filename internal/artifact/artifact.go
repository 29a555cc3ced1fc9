// Package artifact saves and loads the objects produced by the pipeline stages as gob blobs.
package artifact

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load when the file does not exist.
var ErrNotFound = errors.New("artifact not found")

// Save writes v to path. The file is written next to path and renamed into
// place, so path never holds a partial blob.
func Save[T any](path string, v T) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return errors.Wrapf(err, "unable to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "unable to create temporary file in %s", dir)
	}

	defer os.Remove(tmp.Name())

	buf := bufio.NewWriter(tmp)

	err = gob.NewEncoder(buf).Encode(v)
	if err == nil {
		err = buf.Flush()
	}

	if err != nil {
		tmp.Close()

		return errors.Wrapf(err, "unable to encode %s", path)
	}

	err = tmp.Close()
	if err != nil {
		return errors.Wrapf(err, "unable to close %s", tmp.Name())
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return errors.Wrapf(err, "unable to move artifact to %s", path)
	}

	return nil
}

// Load reads the value saved at path.
func Load[T any](path string) (T, error) {
	var v T

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, errors.Wrap(ErrNotFound, path)
		}

		return v, errors.Wrapf(err, "unable to open %s", path)
	}
	defer file.Close()

	err = gob.NewDecoder(bufio.NewReader(file)).Decode(&v)
	if err != nil {
		return v, errors.Wrapf(err, "unable to decode %s", path)
	}

	return v, nil
}

// Exists reports whether path is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
