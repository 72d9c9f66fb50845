package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/config"
	"github.com/any-hub/audiohub/internal/downloader"
	"github.com/any-hub/audiohub/internal/manifest"
	"github.com/any-hub/audiohub/internal/queue"
	"github.com/any-hub/audiohub/internal/server"
	"github.com/any-hub/audiohub/internal/server/routes"
	"github.com/any-hub/audiohub/internal/session"
	"github.com/any-hub/audiohub/internal/taskstore"
	"github.com/any-hub/audiohub/internal/transfer"
)

// 封面目录的上限，与媒体缓存分开计算。
var coverLimits = cache.Limits{MaxBytes: 256 << 20, MaxFiles: 1000}

const shutdownTimeout = 10 * time.Second

// daemon 持有进程内共享的组件实例。
type daemon struct {
	cfg        *config.Config
	logger     *logrus.Logger
	media      cache.Store
	tasks      taskstore.Store
	downloader *downloader.Downloader
	queue      *queue.Queue
	app        *fiber.App
}

func newDaemon(cfg *config.Config, logger *logrus.Logger) (*daemon, error) {
	sess, err := session.New(cfg.Server)
	if err != nil {
		return nil, err
	}

	media, err := cache.NewStore(cfg.MediaCacheDir(), cache.Limits{
		MaxBytes: cfg.Global.CacheMaxSize.Int64(),
		MaxFiles: cfg.Global.CacheMaxFiles,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	tasks, err := taskstore.Open(cfg.Global.TaskStore, cfg.EffectiveTaskStorePath())
	if err != nil {
		return nil, fmt.Errorf("打开任务存储失败: %w", err)
	}

	client := downloader.NewHTTPClient(cfg.Global.UpstreamTimeout.DurationValue())
	dl := downloader.New(client, media, logger, downloader.Options{
		LargeFileThreshold: cfg.Global.LargeFileThreshold.Int64(),
		ChunkSize:          cfg.Global.ChunkSize.Int64(),
		MaxBytes:           cfg.Global.CacheMaxSize.Int64(),
		MaxBytesPerSecond:  cfg.Global.MaxBytesPerSecond.Int64(),
	})

	var tr transfer.Transfer = transfer.NewGeneric(dl)
	if cfg.Global.TransferMode == config.TransferModeNative {
		covers, err := cache.NewStore(cfg.CoverDir(), coverLimits, logger)
		if err != nil {
			tasks.Close()
			return nil, fmt.Errorf("初始化封面目录失败: %w", err)
		}
		tr = transfer.NewNative(dl, covers, client, logger)
	}

	q := queue.New(tasks, tr, sess, logger)

	app, err := server.NewApp(server.AppOptions{Logger: logger, ListenPort: cfg.Global.ListenPort})
	if err != nil {
		tasks.Close()
		return nil, err
	}
	routes.RegisterTaskRoutes(app, q, media, logger)
	routes.RegisterCacheRoutes(app, media, logger)
	routes.RegisterMediaRoutes(app, media, logger)

	return &daemon{
		cfg:        cfg,
		logger:     logger,
		media:      media,
		tasks:      tasks,
		downloader: dl,
		queue:      q,
		app:        app,
	}, nil
}

// Start 恢复持久化队列并开始调度。
func (d *daemon) Start(ctx context.Context) error {
	return d.queue.Initialize(ctx)
}

// EnqueueManifest 按清单顺序提交章节，返回提交数量。
func (d *daemon) EnqueueManifest(path string) (int, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return 0, err
	}
	descs := m.Descriptors()
	for _, desc := range descs {
		if err := d.queue.AddTask(desc); err != nil {
			return 0, err
		}
	}
	return len(descs), nil
}

// Serve 监听端口直到 ctx 取消，随后优雅关闭 HTTP 服务。
// 进行中的下载不会被等待：任务保持 downloading，下次启动时按中断任务恢复。
func (d *daemon) Serve(ctx context.Context) error {
	port := d.cfg.Global.ListenPort
	d.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	d.logger.WithField("action", "shutdown").Info("收到退出信号，关闭 HTTP 服务")
	if err := d.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Close 释放任务存储等资源。
func (d *daemon) Close() {
	d.downloader.WaitEvictions()
	if err := d.tasks.Close(); err != nil {
		d.logger.WithError(err).WithField("action", "shutdown").Warn("关闭任务存储失败")
	}
}
