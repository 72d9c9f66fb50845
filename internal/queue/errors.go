package queue

import "errors"

var (
	// ErrTaskNotFound 表示任务列表中不存在该 ID。
	ErrTaskNotFound = errors.New("queue: task not found")
	// ErrTaskActive 表示任务正在下载，不能重试。
	ErrTaskActive = errors.New("queue: task is downloading")
	// ErrInvalidTask 表示提交的描述缺少章节 ID。
	ErrInvalidTask = errors.New("queue: chapter id required")
)
