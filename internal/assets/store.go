// Package assets persists binary blobs (generated images) under the data
// directory and hands out storage-relative paths for the database to keep.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type Store struct {
	root   string
	subdir string
}

// New prepares a store rooted at root, writing files under root/subdir.
func New(root, subdir string) (*Store, error) {
	dir := filepath.Join(root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create asset directory")
	}
	return &Store{root: root, subdir: subdir}, nil
}

// Save writes data under the requested filename and returns the relative
// path actually used. When the name is taken a numeric suffix is appended,
// so the returned path may differ from the requested one. Files are created
// exclusively, so concurrent saves of the same name never overwrite each
// other.
func (s *Store) Save(filename string, data []byte) (string, error) {
	name := filename
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(s.root, s.subdir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, "create asset")
		}

		_, werr := f.Write(data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return "", errors.Wrap(werr, "write asset")
		}
		return filepath.ToSlash(filepath.Join(s.subdir, name)), nil
	}
}

// Open returns the absolute filesystem path for a previously saved relative
// path, refusing anything that escapes the store root.
func (s *Store) Open(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.Errorf("invalid asset path %q", relPath)
	}
	return filepath.Join(s.root, clean), nil
}
