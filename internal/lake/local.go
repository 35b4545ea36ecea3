package lake

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// LocalStore keeps objects as files under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, eris.New("lake: local root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "lake: resolve %s", root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "lake: create root %s", abs)
	}
	return &LocalStore{root: abs}, nil
}

// Path returns the file path of key.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

func (s *LocalStore) Put(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return eris.Wrapf(copyFile(localPath, s.Path(key)), "lake: put %s", key)
}

func (s *LocalStore) Get(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := s.Path(key)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return eris.Wrapf(ErrNotFound, "lake: get %s", key)
	}
	return eris.Wrapf(copyFile(src, localPath), "lake: get %s", key)
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "lake: stat %s", key)
	}
	return true, nil
}

func (s *LocalStore) URI(key string) string {
	return "file://" + filepath.ToSlash(s.Path(key))
}

// copyFile copies src to dst through a temp file in dst's directory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".lake-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
