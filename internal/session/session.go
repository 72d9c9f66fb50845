// Package session resolves remote URLs against the configured audiobook
// server: chapter stream endpoints carry the auth token, cover images are
// either passed through (external) or resolved against the server base.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/audiohub/internal/config"
)

// ErrNoServer 表示未配置服务端地址。
var ErrNoServer = errors.New("session: server url not configured")

// Session 保存当前服务端地址与 Token，不做任何登录协商。
type Session struct {
	base  *url.URL
	token string
}

// New 基于配置构造 Session，URL 为空时返回 ErrNoServer。
func New(cfg config.ServerConfig) (*Session, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if raw == "" {
		return nil, ErrNoServer
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("session: parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("session: server url must be absolute: %s", raw)
	}
	return &Session{base: base, token: cfg.Token}, nil
}

// StreamURL 返回 <base>/stream/<chapterId>?token=<token>。
func (s *Session) StreamURL(chapterID string) string {
	target := *s.base
	target.Path = strings.TrimRight(s.base.Path, "/") + "/stream/" + chapterID
	target.RawPath = ""
	target.RawQuery = s.withToken(url.Values{}).Encode()
	return target.String()
}

// CoverURL 处理封面地址：绝对地址与协议相对地址不附带 Token，相对地址基于服务端解析并附加 Token。
func (s *Session) CoverURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("session: empty cover url")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("session: parse cover url: %w", err)
	}
	if ref.IsAbs() {
		return raw, nil
	}
	// "//host/path" 同样是外部地址，只补全 scheme，不附带 Token。
	if ref.Host != "" {
		return s.base.ResolveReference(ref).String(), nil
	}

	// 相对路径挂在服务端基础路径之下，避免 "/" 开头时丢掉 base 的子路径。
	target := *s.base
	target.Path = strings.TrimRight(s.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	target.RawPath = ""
	target.RawQuery = s.withToken(ref.Query()).Encode()
	return target.String(), nil
}

// Base 返回服务端基础地址。
func (s *Session) Base() string {
	return s.base.String()
}

func (s *Session) withToken(query url.Values) url.Values {
	if s.token != "" {
		query.Set("token", s.token)
	}
	return query
}
