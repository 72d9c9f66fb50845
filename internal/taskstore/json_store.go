package taskstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/any-hub/audiohub/internal/model"
)

// JSONStore 把任务列表写成单个 JSON 文件，先写临时文件再原子重命名。
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore 创建 JSON 文件存储，目录不存在时自动创建。
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("task store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory: %s", filepath.Dir(path))
	}
	return &JSONStore{path: path}, nil
}

func (s *JSONStore) Load(ctx context.Context) ([]model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read task list: %s", s.path)
	}
	return decodeTasks(data)
}

func (s *JSONStore) Save(ctx context.Context, tasks []model.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeTasks(tasks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write task list: %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to move task list: %s -> %s", tmp, s.path)
	}
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}

var _ Store = (*JSONStore)(nil)
