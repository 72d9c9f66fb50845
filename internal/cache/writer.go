package cache

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/any-hub/audiohub/internal/logging"
)

func (s *fileStore) CreateTemp(name string) (*os.File, error) {
	tempPath, err := s.tempPath(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}

func (s *fileStore) AppendTemp(name string) (*os.File, error) {
	tempPath, err := s.tempPath(name)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(tempPath, os.O_APPEND|os.O_WRONLY, 0o644)
}

func (s *fileStore) RemoveTemp(name string) error {
	tempPath, err := s.tempPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) TempSize(name string) (int64, error) {
	tempPath, err := s.tempPath(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(tempPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *fileStore) Promote(name string) (*Entry, error) {
	tempPath, err := s.tempPath(name)
	if err != nil {
		return nil, err
	}
	filePath := tempPath[:len(tempPath)-len(TempSuffix)]

	unlock := s.lockEntry(name)
	defer unlock()

	info, err := os.Stat(tempPath)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		os.Remove(tempPath)
		return nil, ErrEmptyFile
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	// 重命名之后最终文件已完整，更新时间失败只影响淘汰顺序。
	modTime := s.now()
	if err := s.chtimes(filePath, modTime, modTime); err != nil {
		s.logger.WithError(err).WithFields(logging.CacheFields("cache_promote", s.dir, name)).
			Warn("更新缓存文件时间失败")
		modTime = info.ModTime()
	}

	return &Entry{
		Name:      name,
		SizeBytes: info.Size(),
		ModTime:   modTime,
		URI:       filePath,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, name string, body io.Reader, opts PutOptions) (*Entry, error) {
	tempFile, err := s.CreateTemp(name)
	if err != nil {
		return nil, err
	}

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.RemoveTemp(name)
		return nil, err
	}

	entry, err := s.Promote(name)
	if err != nil {
		return nil, err
	}

	if !opts.ModTime.IsZero() {
		modTime := opts.ModTime.UTC()
		if err := os.Chtimes(entry.URI, modTime, modTime); err != nil {
			return nil, err
		}
		entry.ModTime = modTime
	}
	return entry, nil
}

// copyWithContext 在每次读取前检查 ctx，避免下载被取消后继续写盘。
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

// CopyWithContext 导出给下载器使用，语义同 io.Copy 但响应 ctx 取消。
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return copyWithContext(ctx, dst, src)
}
