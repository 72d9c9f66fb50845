// Package taskstore persists the download task list as one durable "tasks"
// record. The JSON backend writes a snapshot file through temp + rename; the
// SQLite backend keeps the same JSON array in a key/value table.
package taskstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/any-hub/audiohub/internal/model"
)

// TasksKey 是任务列表在键值存储中的键名。
const TasksKey = "tasks"

// Store 读写完整任务列表，实现需保证单次 Save 原子可见。
type Store interface {
	Load(ctx context.Context) ([]model.Task, error)
	Save(ctx context.Context, tasks []model.Task) error
	Close() error
}

// Open 按后端类型创建任务存储，kind 取值 json 或 sqlite。
func Open(kind, path string) (Store, error) {
	switch kind {
	case "", "json":
		return NewJSONStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported task store: %s", kind)
	}
}

func decodeTasks(data []byte) ([]model.Task, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var tasks []model.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, errors.Wrap(err, "failed to decode task list")
	}
	return tasks, nil
}

func encodeTasks(tasks []model.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []model.Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode task list")
	}
	return data, nil
}
