package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/config"
	"github.com/any-hub/audiohub/internal/logging"
	"github.com/any-hub/audiohub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	checkOnly    bool
	showVersion  bool
	manifestPath string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr

	errColor = color.New(color.FgRed)
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// printError 把失败原因以红色输出到 stdErr，非终端环境下 color 会自动关闭着色。
func printError(format string, args ...any) {
	errColor.Fprintf(stdErr, format, args...)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		printError("加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		printError("初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := startupFields("check_config", opts.configPath, cfg)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → 缓存目录 → 任务存储 → 下载器/传输能力 → 队列恢复 → Fiber server。
	d, err := newDaemon(cfg, logger)
	if err != nil {
		printError("初始化失败: %v\n", err)
		return 1
	}
	defer d.Close()

	if err := d.Start(context.Background()); err != nil {
		printError("恢复下载队列失败: %v\n", err)
		return 1
	}

	if opts.manifestPath != "" {
		added, err := d.EnqueueManifest(opts.manifestPath)
		if err != nil {
			printError("导入清单失败: %v\n", err)
			return 1
		}
		fields := logging.BaseFields("enqueue_manifest", opts.configPath)
		fields["manifest"] = opts.manifestPath
		fields["tasks"] = added
		logger.WithFields(fields).Info("清单任务已加入队列")
	}

	logger.WithFields(startupFields("startup", opts.configPath, cfg)).Info("配置加载完成")

	if err := d.Serve(ctx); err != nil {
		printError("HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func startupFields(action, configPath string, cfg *config.Config) logrus.Fields {
	fields := logging.BaseFields(action, configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["cache_max_size"] = cfg.Global.CacheMaxSize.String()
	fields["cache_max_files"] = cfg.Global.CacheMaxFiles
	fields["transfer_mode"] = cfg.Global.TransferMode
	fields["task_store"] = cfg.Global.TaskStore
	fields["auth"] = cfg.Server.AuthMode()
	fields["version"] = version.Full()
	return fields
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("audiohub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		manifest   string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 AUDIOHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&manifest, "enqueue", "", "启动时导入的 YAML 章节清单")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("AUDIOHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:   path,
		checkOnly:    checkOnly,
		showVersion:  showVer,
		manifestPath: manifest,
	}, nil
}
