package model

import (
	"time"
)

// TaskStatus 表示下载任务的状态
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"     // 等待下载
	TaskStatusDownloading TaskStatus = "downloading" // 下载中
	TaskStatusCompleted   TaskStatus = "completed"   // 已完成
	TaskStatusFailed      TaskStatus = "failed"      // 失败
)

// Valid 判断状态是否为已知取值。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusDownloading, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Descriptor 描述一个待下载的章节，由 UI 或清单提交。
type Descriptor struct {
	BookID    string `json:"bookId" yaml:"book_id"`
	ChapterID string `json:"chapterId" yaml:"chapter_id"`
	Title     string `json:"title" yaml:"title"`
	CoverURL  string `json:"coverUrl,omitempty" yaml:"cover_url"`
}

// Task 表示一个章节下载任务，ID 与 ChapterID 相同
type Task struct {
	ID        string     `json:"id"`                 // 任务ID（章节ID）
	BookID    string     `json:"bookId"`             // 书籍ID
	ChapterID string     `json:"chapterId"`          // 章节ID
	Title     string     `json:"title"`              // 标题
	CoverURL  string     `json:"coverUrl,omitempty"` // 封面地址
	Status    TaskStatus `json:"status"`             // 任务状态
	Progress  int        `json:"progress"`           // 进度百分比 0-100
	Error     string     `json:"error,omitempty"`    // 错误信息
	Timestamp time.Time  `json:"timestamp"`          // 创建时间
	Seq       uint64     `json:"seq"`                // 调度序号，越小越先下载
}

// NewTask 根据描述创建 pending 任务。
func NewTask(desc Descriptor, seq uint64, now time.Time) Task {
	return Task{
		ID:        desc.ChapterID,
		BookID:    desc.BookID,
		ChapterID: desc.ChapterID,
		Title:     desc.Title,
		CoverURL:  desc.CoverURL,
		Status:    TaskStatusPending,
		Timestamp: now,
		Seq:       seq,
	}
}
