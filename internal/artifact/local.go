package artifact

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalSink writes artifacts under a root directory.
type LocalSink struct {
	root string
}

// NewLocalSink creates a filesystem sink rooted at root.
func NewLocalSink(root string) *LocalSink {
	return &LocalSink{root: root}
}

func (s *LocalSink) resolve(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func (s *LocalSink) Put(_ context.Context, path string, data []byte) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (s *LocalSink) Get(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(s.resolve(path))
}

func (s *LocalSink) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return out, err
}
