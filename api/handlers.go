package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, logger *log.Logger) {
	e.GET("/tasks", listTasks(store, logger))
	e.POST("/tasks", createTask(store, logger))
	e.GET("/tasks/:id", getTask(store, logger))
	e.PUT("/tasks/:id", updateTask(store, logger))
	e.DELETE("/tasks/:id", deleteTask(store, logger))
	e.GET("/healthz", healthz(store, logger))
}

type healthResponse struct {
	Status string `json:"status"`
}

func healthz(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if _, err := store.ListTasks(ctx); err != nil {
			logger.WithError(err).Warn("health check failed")
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Detail: "storage unavailable"})
		}
		return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	}
}

func beginRequest(c echo.Context, logger *log.Logger) (*requestMetrics, context.Context) {
	route := c.Path()
	if route == "" {
		route = c.Request().URL.Path
	}
	metrics, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
	c.SetRequest(c.Request().WithContext(ctx))
	return metrics, ctx
}

func listTasks(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginRequest(c, logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		fetchStart := time.Now()
		tasks, listErr := store.ListTasks(ctx)
		metrics.Observe("store", time.Since(fetchStart))
		if listErr != nil {
			metrics.Fail("store", listErr)
			logger.WithError(listErr).Error("list tasks")
			return internalError(c)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasks)
		metrics.Observe("encode", time.Since(encodeStart))
		if err != nil {
			metrics.Fail("encode_response", nil)
		}
		return err
	}
}

func getTask(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginRequest(c, logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id := c.Param("id")
		metrics.SetTaskID(id)

		fetchStart := time.Now()
		task, getErr := store.GetTask(ctx, id)
		metrics.Observe("store", time.Since(fetchStart))
		if errors.Is(getErr, domain.ErrTaskNotFound) {
			metrics.Fail("not_found", nil)
			return taskNotFound(c)
		}
		if getErr != nil {
			metrics.Fail("store", getErr)
			logger.WithError(getErr).WithField("task_id", id).Error("get task")
			return internalError(c)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func createTask(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginRequest(c, logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		decodeStart := time.Now()
		in, decodeErr := readTaskCreate(c)
		metrics.Observe("decode", time.Since(decodeStart))
		if decodeErr != nil {
			return rejectBody(c, metrics, logger, decodeErr)
		}

		storeStart := time.Now()
		task, createErr := store.CreateTask(ctx, in)
		metrics.Observe("store", time.Since(storeStart))
		if createErr != nil {
			metrics.Fail("store", createErr)
			logger.WithError(createErr).Error("create task")
			return internalError(c)
		}
		metrics.SetTaskID(task.ID)
		return c.JSON(http.StatusOK, task)
	}
}

func updateTask(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginRequest(c, logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id := c.Param("id")
		metrics.SetTaskID(id)

		decodeStart := time.Now()
		in, decodeErr := readTaskCreate(c)
		metrics.Observe("decode", time.Since(decodeStart))
		if decodeErr != nil {
			return rejectBody(c, metrics, logger, decodeErr)
		}

		storeStart := time.Now()
		task, updateErr := store.UpdateTask(ctx, id, in)
		metrics.Observe("store", time.Since(storeStart))
		if errors.Is(updateErr, domain.ErrTaskNotFound) {
			metrics.Fail("not_found", nil)
			return taskNotFound(c)
		}
		if updateErr != nil {
			metrics.Fail("store", updateErr)
			logger.WithError(updateErr).WithField("task_id", id).Error("update task")
			return internalError(c)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginRequest(c, logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id := c.Param("id")
		metrics.SetTaskID(id)

		storeStart := time.Now()
		removed, deleteErr := store.DeleteTask(ctx, id)
		metrics.Observe("store", time.Since(storeStart))
		if deleteErr != nil {
			metrics.Fail("store", deleteErr)
			logger.WithError(deleteErr).WithField("task_id", id).Error("delete task")
			return internalError(c)
		}
		if !removed {
			metrics.Fail("not_found", nil)
			return taskNotFound(c)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: taskDeletedMessage})
	}
}

var errBodyTooLarge = fmt.Errorf("request body exceeds %d bytes", maxBodySize)

func readTaskCreate(c echo.Context) (domain.TaskCreate, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		return domain.TaskCreate{}, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return domain.TaskCreate{}, errBodyTooLarge
	}
	return decodeTaskCreate(body)
}

func rejectBody(c echo.Context, metrics *requestMetrics, logger *log.Logger, err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		metrics.Fail("validate", nil)
		return unprocessable(c, ve)
	case errors.Is(err, errBodyTooLarge):
		metrics.Fail("decode", nil)
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Detail: err.Error()})
	default:
		metrics.Fail("decode", err)
		logger.WithError(err).Error("read request body")
		return internalError(c)
	}
}
