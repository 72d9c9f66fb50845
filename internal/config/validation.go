package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheMaxSize <= 0 {
		return newFieldError("Global.CacheMaxSize", "必须大于 0")
	}
	if g.CacheMaxFiles <= 0 {
		return newFieldError("Global.CacheMaxFiles", "必须大于 0")
	}
	if g.LargeFileThreshold <= 0 {
		return newFieldError("Global.LargeFileThreshold", "必须大于 0")
	}
	if g.ChunkSize <= 0 {
		return newFieldError("Global.ChunkSize", "必须大于 0")
	}
	if g.ChunkSize > g.LargeFileThreshold {
		return newFieldError("Global.ChunkSize", "不能大于 LargeFileThreshold")
	}
	if g.MaxBytesPerSecond < 0 {
		return newFieldError("Global.MaxBytesPerSecond", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	switch g.TransferMode {
	case TransferModeGeneric, TransferModeNative:
	default:
		return newFieldError("Global.TransferMode", "仅支持 generic/native")
	}
	switch g.TaskStore {
	case TaskStoreJSON, TaskStoreSQLite:
	default:
		return newFieldError("Global.TaskStore", "仅支持 json/sqlite")
	}

	if err := validateServerURL(c.Server.URL); err != nil {
		return fmt.Errorf("Server.URL: %w", err)
	}

	return nil
}

func validateServerURL(raw string) error {
	if raw == "" {
		return errors.New("缺少服务端地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，服务端: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("服务端缺少 Host: %s", raw)
	}
	return nil
}
