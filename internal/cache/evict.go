package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/logging"
)

// Evict 先按数量上限淘汰最旧条目，再继续按容量上限淘汰剩余最旧条目。
// 单个文件删除失败时跳过并尝试下一个，整轮结束后若仍超限也不返回错误。
func (s *fileStore) Evict(ctx context.Context) (EvictResult, error) {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	entries, err := s.List(ctx)
	if err != nil {
		return EvictResult{}, err
	}

	var total int64
	for _, entry := range entries {
		total += entry.SizeBytes
	}
	count := len(entries)

	result := EvictResult{Files: count, Bytes: total}
	if count <= s.limits.MaxFiles && total <= s.limits.MaxBytes {
		return result, nil
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	next := 0
	evictOne := func() {
		entry := entries[next]
		next++
		if err := s.removeForEviction(entry.Name); err != nil {
			result.Failed++
			s.logger.WithError(err).
				WithFields(logging.CacheFields("cache_evict", s.dir, entry.Name)).
				Warn("淘汰缓存文件失败，继续处理下一个")
			return
		}
		count--
		total -= entry.SizeBytes
		result.FreedBytes += entry.SizeBytes
		result.Removed = append(result.Removed, entry)
	}

	for count > s.limits.MaxFiles && next < len(entries) {
		if err := ctx.Err(); err != nil {
			return s.finishEvict(result, count, total), err
		}
		evictOne()
	}
	for total > s.limits.MaxBytes && next < len(entries) {
		if err := ctx.Err(); err != nil {
			return s.finishEvict(result, count, total), err
		}
		evictOne()
	}

	return s.finishEvict(result, count, total), nil
}

func (s *fileStore) finishEvict(result EvictResult, count int, total int64) EvictResult {
	result.Files = count
	result.Bytes = total

	fields := logging.CacheFields("cache_evict", s.dir, "")
	fields["removed"] = len(result.Removed)
	fields["failed"] = result.Failed
	fields["freed"] = humanize.IBytes(uint64(result.FreedBytes))
	fields["files"] = count
	fields["bytes"] = humanize.IBytes(uint64(maxInt64(total, 0)))
	entry := s.logger.WithFields(fields)
	if count > s.limits.MaxFiles || total > s.limits.MaxBytes {
		entry.WithFields(logrus.Fields{
			"max_files": s.limits.MaxFiles,
			"max_bytes": humanize.IBytes(uint64(s.limits.MaxBytes)),
		}).Warn("淘汰结束后仍超出上限")
		return result
	}
	entry.Info("缓存淘汰完成")
	return result
}

func (s *fileStore) removeForEviction(name string) error {
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

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
