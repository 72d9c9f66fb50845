package downloader

import (
	"net"
	"net/http"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          16,
	MaxIdleConnsPerHost:   4,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	// 音频是已压缩数据，关闭透明 gzip 以保证 Content-Length 与 Range 一致。
	DisableCompression: true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回下载共用的 http.Client。
// 不设置 Client.Timeout：整段传输没有时限，timeout 只约束建连与等待响应头。
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := defaultTransport.Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
		transport.DialContext = (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	return &http.Client{Transport: transport}
}
