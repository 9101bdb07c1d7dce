package transform

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid/v5"
)

// Originals is the on-disk store of source images. Files are keyed by
// bare resource id, stripped of any extension: the stored bytes are
// already orientation-normalized and the format travels in the request.
type Originals struct {
	dir string
}

func NewOriginals(dir string) Originals {
	return Originals{dir: dir}
}

// Path returns the filesystem location for a resource id.
func (o Originals) Path(id string) string {
	return filepath.Join(o.dir, id)
}

// Exists reports whether a source image is present.
func (o Originals) Exists(id string) bool {
	_, err := os.Stat(o.Path(id))
	return err == nil
}

// Copy streams a source image into w.
func (o Originals) Copy(id string, w io.Writer) error {
	f, err := os.Open(o.Path(id))
	if err != nil {
		return fmt.Errorf("originals: opening %s: %w", id, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("originals: reading %s: %w", id, err)
	}

	return nil
}

// SaveTemp writes uploaded bytes to a temporary file and returns its
// path. The caller removes it when done.
func SaveTemp(r io.Reader) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	path := filepath.Join(os.TempDir(), id.String())

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing temp file: %w", err)
	}

	return path, nil
}
