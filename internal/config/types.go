package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 以字节为单位，配置中可写作 "2GiB"、"50MiB" 或纯整数。
type ByteSize int64

// UnmarshalText 借助 go-humanize 解析带单位的容量。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String 以 IEC 单位输出，便于日志阅读。
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.IBytes(uint64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		return ByteSize(intVal), nil
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(parsed), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// TransferMode 选择下载能力实现。
const (
	TransferModeGeneric = "generic"
	TransferModeNative  = "native"
)

// TaskStore 后端类型。
const (
	TaskStoreJSON   = "json"
	TaskStoreSQLite = "sqlite"
)

// 缓存目录布局。
const (
	MediaCacheDirName = "media_cache"
	CoverDirName      = "covers"
)

// GlobalConfig 描述守护进程的运行时行为，所有组件共享同一份参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	CacheMaxSize       ByteSize `mapstructure:"CacheMaxSize"`
	CacheMaxFiles      int      `mapstructure:"CacheMaxFiles"`
	LargeFileThreshold ByteSize `mapstructure:"LargeFileThreshold"`
	ChunkSize          ByteSize `mapstructure:"ChunkSize"`
	MaxBytesPerSecond  ByteSize `mapstructure:"MaxBytesPerSecond"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	TransferMode       string   `mapstructure:"TransferMode"`
	TaskStore          string   `mapstructure:"TaskStore"`
	TaskStorePath      string   `mapstructure:"TaskStorePath"`
}

// ServerConfig 指向有声书服务端，Token 原样拼接在 stream 地址上。
type ServerConfig struct {
	URL   string `mapstructure:"URL"`
	Token string `mapstructure:"Token"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Server ServerConfig `mapstructure:"Server"`
}

// MediaCacheDir 返回媒体缓存目录 <StoragePath>/media_cache。
func (c *Config) MediaCacheDir() string {
	return filepath.Join(c.Global.StoragePath, MediaCacheDirName)
}

// CoverDir 返回封面目录，仅 native 传输模式使用。
func (c *Config) CoverDir() string {
	return filepath.Join(c.Global.StoragePath, CoverDirName)
}

// EffectiveTaskStorePath 未显式配置时按后端类型落在 StoragePath 下。
func (c *Config) EffectiveTaskStorePath() string {
	if c.Global.TaskStorePath != "" {
		return c.Global.TaskStorePath
	}
	if c.Global.TaskStore == TaskStoreSQLite {
		return filepath.Join(c.Global.StoragePath, "tasks.db")
	}
	return filepath.Join(c.Global.StoragePath, "tasks.json")
}

// AuthMode 输出 `token` 或 `anonymous`，供日志字段使用，不泄露 Token 本身。
func (s ServerConfig) AuthMode() string {
	if s.Token != "" {
		return "token"
	}
	return "anonymous"
}
