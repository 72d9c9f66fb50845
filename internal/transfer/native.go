package transfer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/downloader"
	"github.com/any-hub/audiohub/internal/logging"
)

// NativeTransfer 在音频下载之外，把封面写入独立的 covers 目录。
type NativeTransfer struct {
	dl     *downloader.Downloader
	covers cache.Store
	client *http.Client
	logger *logrus.Logger
}

// NewNative 创建带封面能力的传输实现，covers 为封面目录对应的 Store。
func NewNative(dl *downloader.Downloader, covers cache.Store, client *http.Client, logger *logrus.Logger) *NativeTransfer {
	if client == nil {
		client = downloader.NewHTTPClient(0)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &NativeTransfer{dl: dl, covers: covers, client: client, logger: logger}
}

func (n *NativeTransfer) Download(ctx context.Context, req downloader.Request) (*cache.Entry, error) {
	return n.dl.Download(ctx, req)
}

// DownloadAuxiliary 下载封面；已存在的封面不会重复下载。
func (n *NativeTransfer) DownloadAuxiliary(ctx context.Context, url, name string) error {
	if _, err := n.covers.Stat(ctx, name); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &downloader.DownloadError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return &downloader.DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &downloader.DownloadError{URL: url, Status: resp.StatusCode}
	}

	entry, err := n.covers.Put(ctx, name, resp.Body, cache.PutOptions{})
	if err != nil {
		return &downloader.DownloadError{URL: url, Err: fmt.Errorf("store cover: %w", err)}
	}
	n.logger.WithFields(logging.CacheFields("cover_download", n.covers.Dir(), entry.Name)).
		WithField("size", entry.SizeBytes).
		Debug("封面已缓存")

	// 封面目录同样受 Limits 约束，淘汰失败不影响本次封面结果。
	if _, err := n.covers.Evict(context.WithoutCancel(ctx)); err != nil {
		n.logger.WithError(err).
			WithFields(logging.CacheFields("cover_evict", n.covers.Dir(), "")).
			Warn("封面淘汰失败")
	}
	return nil
}

var (
	_ Transfer          = (*GenericTransfer)(nil)
	_ AuxiliaryTransfer = (*NativeTransfer)(nil)
)
