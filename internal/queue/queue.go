package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/downloader"
	"github.com/any-hub/audiohub/internal/logging"
	"github.com/any-hub/audiohub/internal/model"
	"github.com/any-hub/audiohub/internal/taskstore"
	"github.com/any-hub/audiohub/internal/transfer"
)

// Resolver 把章节与封面解析为远端地址，session.Session 实现了该接口。
type Resolver interface {
	StreamURL(chapterID string) string
	CoverURL(raw string) (string, error)
}

// DefaultCoverTimeout 限制单次封面下载的总时长。
const DefaultCoverTimeout = 30 * time.Second

// Queue 是任务列表与活动任务标记的唯一持有者，所有修改都在 mu 下完成。
type Queue struct {
	store    taskstore.Store
	transfer transfer.Transfer
	resolver Resolver
	logger   *logrus.Logger
	now      func() time.Time

	coverTimeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	tasks  []model.Task // 展示顺序：最新在前
	active string
	seq    uint64
	covers map[string]struct{} // 进行中的封面文件名

	running sync.WaitGroup
}

// New 创建队列，调用方需在启动时执行 Initialize。
func New(store taskstore.Store, tr transfer.Transfer, resolver Resolver, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Queue{
		store:    store,
		transfer: tr,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
		ctx:      context.Background(),

		coverTimeout: DefaultCoverTimeout,
		covers:       make(map[string]struct{}),
	}
}

// Initialize 载入持久化任务，把上次进程遗留的 downloading 任务降级为 pending，然后开始调度。
// ctx 作为后续所有传输的根上下文，进程退出时取消。
func (q *Queue) Initialize(ctx context.Context) error {
	tasks, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	q.mu.Lock()
	q.ctx = ctx
	q.tasks = tasks
	q.seq = 0
	for _, task := range q.tasks {
		if task.Seq > q.seq {
			q.seq = task.Seq
		}
	}

	recovered := 0
	for i := range q.tasks {
		task := &q.tasks[i]
		if task.Seq == 0 {
			task.Seq = q.nextSeq()
		}
		switch {
		case task.Status == model.TaskStatusDownloading:
			task.Status = model.TaskStatusPending
			task.Progress = 0
			recovered++
		case !task.Status.Valid():
			q.logger.WithFields(logging.TaskFields("queue_recover", task.ID, task.BookID)).
				WithField("status", task.Status).
				Warn("任务状态未知，已重置为等待状态")
			task.Status = model.TaskStatusPending
			task.Progress = 0
			recovered++
		}
	}
	if recovered > 0 {
		q.logger.WithFields(logging.TaskFields("queue_recover", "", "")).
			WithField("recovered", recovered).
			Warn("检测到中断的下载任务，已重置为等待状态")
	}
	err = q.persistLocked()
	q.mu.Unlock()

	q.processQueue()
	return err
}

// AddTask 提交章节：已存在且未失败的任务直接忽略，失败任务重置为 pending，否则插入到列表最前。
func (q *Queue) AddTask(desc model.Descriptor) error {
	desc.ChapterID = strings.TrimSpace(desc.ChapterID)
	if desc.ChapterID == "" {
		return ErrInvalidTask
	}

	q.mu.Lock()
	if idx := q.indexLocked(desc.ChapterID); idx >= 0 {
		task := &q.tasks[idx]
		if task.Status != model.TaskStatusFailed {
			q.mu.Unlock()
			return nil
		}
		q.resetLocked(task)
	} else {
		task := model.NewTask(desc, q.nextSeq(), q.now())
		q.tasks = append([]model.Task{task}, q.tasks...)
	}
	q.logger.WithFields(logging.TaskFields("task_add", desc.ChapterID, desc.BookID)).Info("任务已加入队列")
	err := q.persistLocked()
	q.mu.Unlock()

	q.processQueue()
	return err
}

// RemoveTask 从列表中移除任务，不删除缓存文件。正在下载的任务会继续传输，但结果不再记录。
func (q *Queue) RemoveTask(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return ErrTaskNotFound
	}
	q.tasks = append(q.tasks[:idx], q.tasks[idx+1:]...)
	q.logger.WithFields(logging.TaskFields("task_remove", id, "")).Info("任务已移除")
	return q.persistLocked()
}

// ClearCompleted 移除所有已完成任务，返回移除数量。
func (q *Queue) ClearCompleted() (int, error) {
	return q.clearStatus(model.TaskStatusCompleted)
}

// ClearFailed 移除所有失败任务，返回移除数量。
func (q *Queue) ClearFailed() (int, error) {
	return q.clearStatus(model.TaskStatusFailed)
}

func (q *Queue) clearStatus(status model.TaskStatus) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.tasks[:0]
	removed := 0
	for _, task := range q.tasks {
		if task.Status == status {
			removed++
			continue
		}
		kept = append(kept, task)
	}
	q.tasks = kept
	if removed == 0 {
		return 0, nil
	}
	q.logger.WithFields(logging.TaskFields("task_clear", "", "")).
		WithFields(logrus.Fields{"status": status, "removed": removed}).
		Info("已清理任务")
	return removed, q.persistLocked()
}

// RetryTask 把任务重置为 pending 并排到调度末尾。
func (q *Queue) RetryTask(id string) error {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	task := &q.tasks[idx]
	if task.Status == model.TaskStatusDownloading {
		q.mu.Unlock()
		return ErrTaskActive
	}
	q.resetLocked(task)
	q.logger.WithFields(logging.TaskFields("task_retry", task.ID, task.BookID)).Info("任务已重新排队")
	err := q.persistLocked()
	q.mu.Unlock()

	q.processQueue()
	return err
}

// Tasks 返回任务列表副本，最新加入的在前。
func (q *Queue) Tasks() []model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Task(nil), q.tasks...)
}

// Task 返回单个任务副本。
func (q *Queue) Task(id string) (model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return model.Task{}, ErrTaskNotFound
	}
	return q.tasks[idx], nil
}

// Active 返回当前活动任务 ID，空闲时为空字符串。
func (q *Queue) Active() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Wait 阻塞到没有传输在进行且调度链结束。
func (q *Queue) Wait() {
	q.running.Wait()
}

// processQueue 是唯一的调度点：有活动任务时直接返回，否则启动 Seq 最小的 pending 任务。
func (q *Queue) processQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != "" {
		return
	}
	next := -1
	for i, task := range q.tasks {
		if task.Status != model.TaskStatusPending {
			continue
		}
		if next < 0 || task.Seq < q.tasks[next].Seq {
			next = i
		}
	}
	if next < 0 {
		return
	}
	q.startDownloadLocked(next)
}

// startDownloadLocked 标记任务为 downloading 并在独立 goroutine 中传输，调用方持有 mu。
func (q *Queue) startDownloadLocked(idx int) {
	task := &q.tasks[idx]
	task.Status = model.TaskStatusDownloading
	task.Error = ""
	task.Progress = 0
	q.active = task.ID
	if err := q.persistLocked(); err != nil {
		q.logger.WithError(err).WithFields(logging.TaskFields("task_start", task.ID, task.BookID)).
			Warn("持久化任务状态失败")
	}

	snapshot := *task
	ctx := q.ctx
	q.running.Add(1)
	go q.run(ctx, snapshot)
}

func (q *Queue) run(ctx context.Context, task model.Task) {
	defer q.running.Done()
	defer q.processQueue()
	defer func() {
		q.mu.Lock()
		q.active = ""
		q.mu.Unlock()
	}()

	fields := logging.TaskFields("task_download", task.ID, task.BookID)
	q.logger.WithFields(fields).Info("开始下载章节")

	q.startCover(ctx, task)

	entry, err := q.transfer.Download(ctx, downloader.Request{
		URL:      q.resolver.StreamURL(task.ChapterID),
		Name:     cache.MediaFileName(task.ChapterID),
		Progress: q.progressFunc(task.ID),
	})
	if err != nil {
		q.logger.WithError(err).WithFields(fields).Warn("章节下载失败")
		q.finish(task.ID, err)
		return
	}
	q.logger.WithFields(fields).WithField("size", entry.SizeBytes).Info("章节下载完成")
	q.finish(task.ID, nil)
}

// startCover 仅在传输实现支持辅助下载时执行。封面在独立 goroutine 中下载，不占用活动任务标记，
// 同名封面同一时间只下载一次。
func (q *Queue) startCover(ctx context.Context, task model.Task) {
	aux, ok := q.transfer.(transfer.AuxiliaryTransfer)
	if !ok || task.CoverURL == "" || task.BookID == "" {
		return
	}
	fields := logging.TaskFields("cover_download", task.ID, task.BookID)
	coverURL, err := q.resolver.CoverURL(task.CoverURL)
	if err != nil {
		q.logger.WithError(err).WithFields(fields).Debug("封面地址无效，跳过")
		return
	}
	name := transfer.CoverName(task.BookID, task.CoverURL)

	q.mu.Lock()
	if _, busy := q.covers[name]; busy {
		q.mu.Unlock()
		return
	}
	q.covers[name] = struct{}{}
	q.mu.Unlock()

	q.running.Add(1)
	go func() {
		defer q.running.Done()
		defer func() {
			q.mu.Lock()
			delete(q.covers, name)
			q.mu.Unlock()
		}()

		coverCtx, cancel := context.WithTimeout(ctx, q.coverTimeout)
		defer cancel()
		if err := aux.DownloadAuxiliary(coverCtx, coverURL, name); err != nil {
			q.logger.WithError(err).WithFields(fields).Debug("封面下载失败，忽略")
		}
	}()
}

func (q *Queue) finish(id string, downloadErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 || q.tasks[idx].Status != model.TaskStatusDownloading {
		// 下载期间任务被移除或重新提交。
		return
	}
	task := &q.tasks[idx]
	if downloadErr != nil {
		task.Status = model.TaskStatusFailed
		task.Error = downloadErr.Error()
	} else {
		task.Status = model.TaskStatusCompleted
		task.Progress = 100
		task.Error = ""
	}
	if err := q.persistLocked(); err != nil {
		q.logger.WithError(err).WithFields(logging.TaskFields("task_finish", task.ID, task.BookID)).
			Warn("持久化任务状态失败")
	}
}

// progressFunc 把字节进度换算为百分比，只有百分比变化时才写入存储。
func (q *Queue) progressFunc(id string) downloader.ProgressFunc {
	last := -1
	return func(written, total int64) {
		if total <= 0 {
			return
		}
		percent := int(written * 100 / total)
		if percent > 99 {
			percent = 99
		}
		if percent == last {
			return
		}
		last = percent

		q.mu.Lock()
		defer q.mu.Unlock()
		idx := q.indexLocked(id)
		if idx < 0 || q.tasks[idx].Status != model.TaskStatusDownloading {
			return
		}
		q.tasks[idx].Progress = percent
		if err := q.persistLocked(); err != nil {
			q.logger.WithError(err).WithFields(logging.TaskFields("task_progress", id, "")).
				Debug("持久化进度失败")
		}
	}
}

func (q *Queue) resetLocked(task *model.Task) {
	task.Status = model.TaskStatusPending
	task.Progress = 0
	task.Error = ""
	task.Seq = q.nextSeq()
}

func (q *Queue) nextSeq() uint64 {
	q.seq++
	return q.seq
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.tasks {
		if q.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) persistLocked() error {
	snapshot := append([]model.Task(nil), q.tasks...)
	if err := q.store.Save(context.WithoutCancel(q.ctx), snapshot); err != nil {
		q.logger.WithError(err).WithFields(logging.TaskFields("task_persist", "", "")).
			Error("保存任务列表失败")
		return err
	}
	return nil
}
