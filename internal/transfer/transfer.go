// Package transfer exposes the download capability the queue depends on.
// GenericTransfer only fetches chapter audio; NativeTransfer additionally
// fetches cover images as a best-effort auxiliary download.
package transfer

import (
	"context"
	"path"
	"strings"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/downloader"
)

// Transfer 把一个远端资源落地为缓存条目。
type Transfer interface {
	Download(ctx context.Context, req downloader.Request) (*cache.Entry, error)
}

// AuxiliaryTransfer 额外支持封面等辅助资源的尽力下载。
type AuxiliaryTransfer interface {
	Transfer
	DownloadAuxiliary(ctx context.Context, url, name string) error
}

// GenericTransfer 直接委托给 Downloader。
type GenericTransfer struct {
	dl *downloader.Downloader
}

// NewGeneric 创建通用传输实现。
func NewGeneric(dl *downloader.Downloader) *GenericTransfer {
	return &GenericTransfer{dl: dl}
}

func (g *GenericTransfer) Download(ctx context.Context, req downloader.Request) (*cache.Entry, error) {
	return g.dl.Download(ctx, req)
}

var coverExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".gif": {},
}

// CoverName 返回 <bookId><ext>，扩展名取自封面 URL 路径，无法识别时使用 .jpg。
func CoverName(bookID, coverURL string) string {
	raw := coverURL
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	ext := strings.ToLower(path.Ext(raw))
	if _, ok := coverExts[ext]; !ok {
		ext = ".jpg"
	}
	return bookID + ext
}
