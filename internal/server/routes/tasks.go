// Package routes registers the control API handlers: task queue operations,
// cache inspection and eviction, and streaming of cached chapters.
package routes

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/logging"
	"github.com/any-hub/audiohub/internal/model"
	"github.com/any-hub/audiohub/internal/queue"
	"github.com/any-hub/audiohub/internal/server"
)

// TaskQueue 是路由依赖的队列操作集合，*queue.Queue 实现了该接口。
type TaskQueue interface {
	Tasks() []model.Task
	Task(id string) (model.Task, error)
	AddTask(desc model.Descriptor) error
	RemoveTask(id string) error
	RetryTask(id string) error
	ClearCompleted() (int, error)
	ClearFailed() (int, error)
}

// RegisterTaskRoutes 暴露 /api/tasks 系列接口。purge=true 时删除任务同时移除缓存文件。
func RegisterTaskRoutes(app *fiber.App, q TaskQueue, store cache.Store, logger *logrus.Logger) {
	if app == nil || q == nil {
		return
	}
	if logger == nil {
		logger = logging.Discard()
	}

	api := app.Group("/api/tasks")

	api.Get("/", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"tasks": q.Tasks()})
	})

	api.Post("/", func(c fiber.Ctx) error {
		var desc model.Descriptor
		if err := c.Bind().JSON(&desc); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		if err := q.AddTask(desc); err != nil {
			return taskError(c, err)
		}
		task, err := q.Task(strings.TrimSpace(desc.ChapterID))
		if err != nil {
			return taskError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(task)
	})

	api.Post("/clear", func(c fiber.Ctx) error {
		var (
			removed int
			err     error
		)
		switch c.Query("status") {
		case string(model.TaskStatusCompleted):
			removed, err = q.ClearCompleted()
		case string(model.TaskStatusFailed):
			removed, err = q.ClearFailed()
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status_must_be_completed_or_failed"})
		}
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"removed": removed})
	})

	api.Get("/:id", func(c fiber.Ctx) error {
		task, err := q.Task(c.Params("id"))
		if err != nil {
			return taskError(c, err)
		}
		return c.JSON(task)
	})

	api.Delete("/:id", func(c fiber.Ctx) error {
		id := c.Params("id")
		if err := q.RemoveTask(id); err != nil {
			return taskError(c, err)
		}
		if c.Query("purge") == "true" && store != nil {
			if err := store.Delete(c.Context(), cache.MediaFileName(id)); err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"action":     "task_purge",
					"task_id":    id,
					"request_id": server.RequestID(c),
				}).Warn("删除缓存文件失败")
				return err
			}
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Post("/:id/retry", func(c fiber.Ctx) error {
		id := c.Params("id")
		if err := q.RetryTask(id); err != nil {
			return taskError(c, err)
		}
		task, err := q.Task(id)
		if err != nil {
			return taskError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(task)
	})
}

func taskError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, queue.ErrTaskNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "task_not_found"})
	case errors.Is(err, queue.ErrTaskActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "task_active"})
	case errors.Is(err, queue.ErrInvalidTask):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "chapter_id_required"})
	}
	return err
}
