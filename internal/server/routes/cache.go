package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/logging"
)

// RegisterCacheRoutes 暴露缓存目录的查看、删除与手动淘汰接口。
func RegisterCacheRoutes(app *fiber.App, store cache.Store, logger *logrus.Logger) {
	if app == nil || store == nil {
		return
	}
	if logger == nil {
		logger = logging.Discard()
	}

	api := app.Group("/api/cache")

	api.Get("/", func(c fiber.Ctx) error {
		entries, err := store.List(c.Context())
		if err != nil {
			return err
		}
		usage, err := store.Usage(c.Context())
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []cache.Entry{}
		}
		return c.JSON(fiber.Map{
			"entries": entries,
			"usage":   usage,
		})
	})

	api.Delete("/:name", func(c fiber.Ctx) error {
		if err := store.Delete(c.Context(), c.Params("name")); err != nil {
			if errors.Is(err, cache.ErrInvalidName) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_name"})
			}
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Post("/evict", func(c fiber.Ctx) error {
		result, err := store.Evict(c.Context())
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"action":  "cache_evict_manual",
			"removed": len(result.Removed),
		}).Info("手动淘汰完成")
		return c.JSON(result)
	})
}
