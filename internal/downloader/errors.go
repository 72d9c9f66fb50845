package downloader

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrTooLarge 表示远端文件超过缓存容量上限，下载会被拒绝。
	ErrTooLarge = errors.New("downloader: resource exceeds cache size limit")
	// ErrRangeNotSupported 表示服务端在分块中途忽略了 Range 请求。
	ErrRangeNotSupported = errors.New("downloader: server ignored range request")
	// ErrSizeMismatch 表示分块下载完成后临时文件大小与探测结果不一致。
	ErrSizeMismatch = errors.New("downloader: size mismatch after chunked transfer")
)

// DownloadError 携带 HTTP 状态码或底层传输/存储错误，Status 为 0 表示非 HTTP 状态错误。
type DownloadError struct {
	URL    string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	target := redactURL(e.URL)
	if e.Status != 0 {
		return fmt.Sprintf("download %s: unexpected status %d %s", target, e.Status, http.StatusText(e.Status))
	}
	// 传输错误（*url.Error）会带上原始 URL。
	return fmt.Sprintf("download %s: %s", target, strings.ReplaceAll(fmt.Sprint(e.Err), e.URL, target))
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// StatusCode 从错误链中取出 HTTP 状态码，不存在时返回 0。
func StatusCode(err error) int {
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		return dlErr.Status
	}
	return 0
}

func statusError(rawURL string, status int) error {
	return &DownloadError{URL: rawURL, Status: status}
}

func wrapError(rawURL string, err error) error {
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		return err
	}
	return &DownloadError{URL: rawURL, Err: err}
}

// redactURL 隐去 query 中的 token，错误信息会被持久化到任务列表并返回给 UI。
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	if query.Has("token") {
		query.Set("token", "REDACTED")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
