package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/logging"
)

// NewStore 以 dir 为根目录构建媒体缓存，进程内复用一份实例。
func NewStore(dir string, limits Limits, logger *logrus.Logger) (Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}
	if limits.MaxBytes <= 0 || limits.MaxFiles <= 0 {
		return nil, fmt.Errorf("invalid cache limits: %+v", limits)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &fileStore{
		dir:    abs,
		limits: limits,
		logger: logger,
		locks:  make(map[string]*entryLock),
		now:    time.Now,

		chtimes: os.Chtimes,
	}, nil
}

// fileStore 通过 entryLock 避免同一文件名的 rename/删除交错，evictMu 保证淘汰串行。
type fileStore struct {
	dir    string
	limits Limits
	logger *logrus.Logger
	now    func() time.Time

	chtimes func(name string, atime, mtime time.Time) error

	evictMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Dir() string {
	return s.dir
}

func (s *fileStore) Limits() Limits {
	return s.limits
}

func (s *fileStore) Stat(ctx context.Context, name string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.path(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	if info.Size() == 0 {
		s.logger.WithFields(logging.CacheFields("cache_corrupt", s.dir, name)).
			Warn("发现 0 字节缓存文件，删除后按未命中处理")
		if err := s.Delete(ctx, name); err != nil {
			s.logger.WithError(err).
				WithFields(logging.CacheFields("cache_corrupt", s.dir, name)).
				Warn("删除损坏缓存失败")
		}
		return nil, ErrNotFound
	}

	entry := s.entry(name, info)
	return &entry, nil
}

func (s *fileStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if mkErr := os.MkdirAll(s.dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create cache dir: %w", mkErr)
			}
			return []Entry{}, nil
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasSuffix(de.Name(), TempSuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// 枚举与删除并发时文件可能已消失
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, s.entry(de.Name(), info))
	}
	return entries, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.path(name)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(name)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Touch(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.path(name)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.chtimes(filePath, now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *fileStore) Usage(ctx context.Context) (Usage, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Usage{}, err
	}
	usage := Usage{
		Files:    len(entries),
		MaxFiles: s.limits.MaxFiles,
		MaxBytes: s.limits.MaxBytes,
	}
	for _, entry := range entries {
		usage.Bytes += entry.SizeBytes
	}
	return usage, nil
}

func (s *fileStore) entry(name string, info fs.FileInfo) Entry {
	return Entry{
		Name:      name,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		URI:       filepath.Join(s.dir, name),
	}
}

func (s *fileStore) lockEntry(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

// path 校验文件名并拼接绝对路径，缓存目录是扁平的，不允许任何层级。
func (s *fileStore) path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

func (s *fileStore) tempPath(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+TempSuffix), nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return ErrInvalidName
	case strings.HasSuffix(name, TempSuffix):
		return ErrInvalidName
	}
	return nil
}
