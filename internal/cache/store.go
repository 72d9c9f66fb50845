package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// Store 负责管理扁平的媒体缓存目录。磁盘布局遵循：
//
//	<Dir>/<chapterId>.mp3        # 已完成的正文
//	<Dir>/<chapterId>.mp3.tmp    # 写入中的临时文件，不计入统计
//
// 正文只能通过临时文件 + rename 出现在最终文件名下，ModTime/Size 由文件系统提供。
type Store interface {
	// Stat 返回条目元数据。文件不存在返回 ErrNotFound；0 字节文件视为损坏，删除后同样返回 ErrNotFound。
	Stat(ctx context.Context, name string) (*Entry, error)

	// List 枚举所有非临时文件；目录缺失时惰性创建并返回空列表。
	List(ctx context.Context) ([]Entry, error)

	// Delete 删除正文文件，文件已不存在视为成功。
	Delete(ctx context.Context, name string) error

	// Evict 在超出数量或容量上限时按 ModTime 从旧到新淘汰，单个文件删除失败只记录日志。
	Evict(ctx context.Context) (EvictResult, error)

	// Touch 将条目 ModTime 更新为当前时间，播放读取时调用以维持 LRU 顺序。
	Touch(ctx context.Context, name string) error

	// Usage 汇总当前文件数与总字节数。
	Usage(ctx context.Context) (Usage, error)

	// Put 将 body 完整写入临时文件后 rename 为 name。
	Put(ctx context.Context, name string, body io.Reader, opts PutOptions) (*Entry, error)

	// CreateTemp 以截断方式打开 name 对应的临时文件。
	CreateTemp(name string) (*os.File, error)

	// AppendTemp 以追加方式打开 name 对应的临时文件，文件必须已存在。
	AppendTemp(name string) (*os.File, error)

	// RemoveTemp 删除 name 对应的临时文件，不存在视为成功。
	RemoveTemp(name string) error

	// Promote 将临时文件原子 rename 为最终文件名；空临时文件会被删除并返回 ErrEmptyFile。
	Promote(name string) (*Entry, error)

	// TempSize 返回临时文件当前大小。
	TempSize(name string) (int64, error)

	// Dir 返回缓存目录绝对路径。
	Dir() string

	// Limits 返回容量与数量上限。
	Limits() Limits
}

// Limits 描述缓存目录的软上限，每次淘汰后必须同时满足。
type Limits struct {
	MaxBytes int64
	MaxFiles int
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Entry 表示一个已完成的缓存文件。
type Entry struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"modified_at"`
	URI       string    `json:"uri"`
}

// Usage 是缓存目录的统计快照。
type Usage struct {
	Files    int   `json:"files"`
	Bytes    int64 `json:"bytes"`
	MaxFiles int   `json:"max_files"`
	MaxBytes int64 `json:"max_bytes"`
}

// EvictResult 汇总一次淘汰的结果。Files/Bytes 为淘汰后的剩余量。
type EvictResult struct {
	Removed    []Entry `json:"removed"`
	FreedBytes int64   `json:"freed_bytes"`
	Failed     int     `json:"failed"`
	Files      int     `json:"files"`
	Bytes      int64   `json:"bytes"`
}

// TempSuffix 是写入中文件的后缀。
const TempSuffix = ".tmp"

// MediaExt 是章节音频文件的扩展名。
const MediaExt = ".mp3"

// MediaFileName 返回章节在缓存目录中的文件名。
func MediaFileName(chapterID string) string {
	return chapterID + MediaExt
}

var (
	// ErrNotFound 表示缓存不存在或已损坏。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示文件名含路径分隔符、.. 或临时后缀。
	ErrInvalidName = errors.New("invalid cache entry name")
	// ErrEmptyFile 表示临时文件为空，拒绝提升为正文。
	ErrEmptyFile = errors.New("cache entry is empty")
)
