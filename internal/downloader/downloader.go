package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/logging"
)

// 默认值与配置 LargeFileThreshold/ChunkSize 的默认值一致。
const (
	DefaultLargeFileThreshold = 50 << 20
	DefaultChunkSize          = 1 << 20
)

// Options configures the downloader.
type Options struct {
	// LargeFileThreshold 以上的已知大小走分块传输。
	LargeFileThreshold int64

	// ChunkSize 是每个 Range 请求的字节数。
	ChunkSize int64

	// MaxBytes 拒绝超过该大小的资源，0 表示不限制。
	MaxBytes int64

	// MaxBytesPerSecond 限制下载带宽，0 表示不限速。
	MaxBytesPerSecond int64
}

// Request 描述一次下载：远端地址与缓存文件名。
type Request struct {
	URL      string
	Name     string
	Progress ProgressFunc
}

// ProgressFunc 在写入临时文件时回调，total 未知时为 -1。
type ProgressFunc func(written, total int64)

// Downloader 通过 cache.Store 的临时文件原语完成下载，并在成功后触发后台淘汰。
type Downloader struct {
	client  *http.Client
	store   cache.Store
	logger  *logrus.Logger
	opts    Options
	limiter *rate.Limiter

	evictions sync.WaitGroup
}

// New creates a downloader writing into store.
func New(client *http.Client, store cache.Store, logger *logrus.Logger, opts Options) *Downloader {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.LargeFileThreshold <= 0 {
		opts.LargeFileThreshold = DefaultLargeFileThreshold
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Downloader{
		client:  client,
		store:   store,
		logger:  logger,
		opts:    opts,
		limiter: newLimiter(opts.MaxBytesPerSecond),
	}
}

// Store 返回下载写入的缓存。
func (d *Downloader) Store() cache.Store {
	return d.store
}

// Download 将 req.URL 下载为缓存条目 req.Name。失败时临时文件被删除，最终文件名从不出现半成品。
func (d *Downloader) Download(ctx context.Context, req Request) (entry *cache.Entry, err error) {
	fields := logging.CacheFields("download", d.store.Dir(), req.Name)

	total, err := d.probe(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	if d.opts.MaxBytes > 0 && total > d.opts.MaxBytes {
		return nil, &DownloadError{URL: req.URL, Err: fmt.Errorf("%w: %s", ErrTooLarge, humanize.IBytes(uint64(total)))}
	}

	if err := d.store.RemoveTemp(req.Name); err != nil {
		return nil, wrapError(req.URL, fmt.Errorf("remove stale temp: %w", err))
	}

	defer func() {
		if err == nil {
			return
		}
		if rmErr := d.store.RemoveTemp(req.Name); rmErr != nil {
			d.logger.WithError(rmErr).WithFields(fields).Warn("清理临时文件失败")
		}
	}()

	chunked := total > d.opts.LargeFileThreshold
	fields["size"] = total
	fields["chunked"] = chunked
	d.logger.WithFields(fields).Debug("开始下载")

	if chunked {
		err = d.fetchChunked(ctx, req, total)
	} else {
		err = d.fetchWhole(ctx, req, total)
	}
	if err != nil {
		return nil, err
	}

	if d.opts.MaxBytes > 0 {
		written, statErr := d.store.TempSize(req.Name)
		if statErr != nil {
			return nil, wrapError(req.URL, statErr)
		}
		if written > d.opts.MaxBytes {
			return nil, &DownloadError{URL: req.URL, Err: fmt.Errorf("%w: %s", ErrTooLarge, humanize.IBytes(uint64(written)))}
		}
	}

	entry, err = d.store.Promote(req.Name)
	if err != nil {
		return nil, wrapError(req.URL, fmt.Errorf("promote temp file: %w", err))
	}

	fields["size"] = entry.SizeBytes
	d.logger.WithFields(fields).Info("下载完成")

	d.scheduleEviction(ctx)
	return entry, nil
}

// WaitEvictions 阻塞到所有已触发的后台淘汰结束。
func (d *Downloader) WaitEvictions() {
	d.evictions.Wait()
}

// scheduleEviction 后台执行一次淘汰，失败只记录日志，不影响下载结果。
func (d *Downloader) scheduleEviction(ctx context.Context) {
	evictCtx := context.WithoutCancel(ctx)
	d.evictions.Add(1)
	go func() {
		defer d.evictions.Done()
		if _, err := d.store.Evict(evictCtx); err != nil {
			d.logger.WithError(err).
				WithFields(logging.CacheFields("cache_evict", d.store.Dir(), "")).
				Warn("后台淘汰失败")
		}
	}()
}

// probe 通过 HEAD 获取资源大小，缺失或为 0 时返回 -1。
func (d *Downloader) probe(ctx context.Context, rawURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, wrapError(rawURL, fmt.Errorf("create request: %w", err))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, wrapError(rawURL, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed, resp.StatusCode == http.StatusNotImplemented:
		return -1, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, statusError(rawURL, resp.StatusCode)
	case resp.ContentLength <= 0:
		return -1, nil
	}
	return resp.ContentLength, nil
}

func (d *Downloader) fetchWhole(ctx context.Context, req Request, total int64) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return wrapError(req.URL, fmt.Errorf("create request: %w", err))
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return wrapError(req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(req.URL, resp.StatusCode)
	}
	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	if total <= 0 {
		total = -1
	}

	return d.writeTemp(ctx, req, resp.Body, true, &progressWriter{total: total, fn: req.Progress})
}

func (d *Downloader) fetchChunked(ctx context.Context, req Request, total int64) error {
	progress := &progressWriter{total: total, fn: req.Progress}

	for start := int64(0); start < total; start += d.opts.ChunkSize {
		end := start + d.opts.ChunkSize - 1
		if end >= total {
			end = total - 1
		}

		whole, err := d.fetchRange(ctx, req, start, end, progress)
		if err != nil {
			return err
		}
		if whole {
			break
		}
	}

	written, err := d.store.TempSize(req.Name)
	if err != nil {
		return wrapError(req.URL, err)
	}
	if written != total {
		return &DownloadError{URL: req.URL, Err: fmt.Errorf("%w: want %d got %d", ErrSizeMismatch, total, written)}
	}
	return nil
}

// fetchRange 下载 [start, end] 区间。服务端对首个分块返回 200 时视为整体响应，whole 为 true。
func (d *Downloader) fetchRange(ctx context.Context, req Request, start, end int64, progress *progressWriter) (whole bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return false, wrapError(req.URL, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return false, wrapError(req.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400:
		return false, statusError(req.URL, resp.StatusCode)
	case resp.StatusCode == http.StatusOK && start == 0:
		d.logger.WithFields(logging.CacheFields("download", d.store.Dir(), req.Name)).
			Warn("服务端忽略 Range，按整体响应写入")
		whole = true
	case resp.StatusCode == http.StatusOK:
		return false, &DownloadError{URL: req.URL, Status: resp.StatusCode, Err: ErrRangeNotSupported}
	case resp.StatusCode != http.StatusPartialContent:
		return false, statusError(req.URL, resp.StatusCode)
	}

	return whole, d.writeTemp(ctx, req, resp.Body, start == 0, progress)
}

// writeTemp 首个分块以截断方式创建临时文件，其余分块追加。
func (d *Downloader) writeTemp(ctx context.Context, req Request, body io.Reader, create bool, progress *progressWriter) error {
	open := d.store.AppendTemp
	if create {
		open = d.store.CreateTemp
	}
	f, err := open(req.Name)
	if err != nil {
		return wrapError(req.URL, fmt.Errorf("open temp file: %w", err))
	}

	progress.w = f
	_, err = cache.CopyWithContext(ctx, progress, d.limit(ctx, body))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return wrapError(req.URL, err)
		}
		return wrapError(req.URL, fmt.Errorf("write temp file: %w", err))
	}
	return nil
}
