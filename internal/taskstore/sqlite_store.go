package taskstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/any-hub/audiohub/internal/model"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLiteStore 把任务列表保存在 kv 表的 tasks 键下。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（必要时创建）数据库文件并初始化表结构。
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("task store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory: %s", filepath.Dir(path))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", path)
	}
	// 单连接即可串行化写入，避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.Bootstrap(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Bootstrap 创建 kv 表。
func (s *SQLiteStore) Bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, kvSchema); err != nil {
		return errors.Wrap(err, "failed to create kv table")
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]model.Task, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, TasksKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query task list")
	}
	return decodeTasks([]byte(value))
}

func (s *SQLiteStore) Save(ctx context.Context, tasks []model.Task) error {
	data, err := encodeTasks(tasks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		TasksKey, string(data))
	if err != nil {
		return errors.Wrap(err, "failed to save task list")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
