package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/logging"
	"github.com/any-hub/audiohub/internal/server"
)

// RegisterMediaRoutes 暴露 /media/:chapterId，从缓存读取章节音频。
// 每次播放都会刷新文件 mtime，使淘汰顺序退化为 LRU。
func RegisterMediaRoutes(app *fiber.App, store cache.Store, logger *logrus.Logger) {
	if app == nil || store == nil {
		return
	}
	if logger == nil {
		logger = logging.Discard()
	}

	app.Get("/media/:chapterId", func(c fiber.Ctx) error {
		name := cache.MediaFileName(c.Params("chapterId"))
		entry, err := store.Stat(c.Context(), name)
		switch {
		case errors.Is(err, cache.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_cached"})
		case errors.Is(err, cache.ErrInvalidName):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_name"})
		case err != nil:
			return err
		}

		if err := store.Touch(c.Context(), name); err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				// Stat 与 Touch 之间被淘汰。
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_cached"})
			}
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "media_touch",
				"name":       name,
				"request_id": server.RequestID(c),
			}).Warn("刷新缓存访问时间失败")
		}

		// 支持 Range 以便播放器拖动进度；不缓存文件句柄，淘汰后立即失效。
		err = c.SendFile(entry.URI, fiber.SendFile{ByteRange: true, CacheDuration: -1})
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) && fiberErr.Code == fiber.StatusNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_cached"})
		}
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "audio/mpeg")
		return nil
	})
}
