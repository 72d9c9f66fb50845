package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认值与 setDefaults 保持一致。
const (
	defaultListenPort         = 5080
	defaultCacheMaxSize       = 2 << 30
	defaultCacheMaxFiles      = 50
	defaultLargeFileThreshold = 50 << 20
	defaultChunkSize          = 1 << 20
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	cfg.Server.URL = strings.TrimRight(strings.TrimSpace(cfg.Server.URL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheMaxSize", "2GiB")
	v.SetDefault("CacheMaxFiles", defaultCacheMaxFiles)
	v.SetDefault("LargeFileThreshold", "50MiB")
	v.SetDefault("ChunkSize", "1MiB")
	v.SetDefault("MaxBytesPerSecond", 0)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("TransferMode", TransferModeGeneric)
	v.SetDefault("TaskStore", TaskStoreJSON)
	v.SetDefault("TaskStorePath", "")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	if g.CacheMaxSize == 0 {
		g.CacheMaxSize = ByteSize(defaultCacheMaxSize)
	}
	if g.CacheMaxFiles == 0 {
		g.CacheMaxFiles = defaultCacheMaxFiles
	}
	if g.LargeFileThreshold == 0 {
		g.LargeFileThreshold = ByteSize(defaultLargeFileThreshold)
	}
	if g.ChunkSize == 0 {
		g.ChunkSize = ByteSize(defaultChunkSize)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.TransferMode = strings.ToLower(strings.TrimSpace(g.TransferMode))
	if g.TransferMode == "" {
		g.TransferMode = TransferModeGeneric
	}
	g.TaskStore = strings.ToLower(strings.TrimSpace(g.TaskStore))
	if g.TaskStore == "" {
		g.TaskStore = TaskStoreJSON
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := parseByteSize(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析容量字段: %s", v)
			}
			return parsed, nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的容量类型: %T", v)
		}
	}
}
