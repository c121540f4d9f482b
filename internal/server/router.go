package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/logging"
	"github.com/any-hub/plughub/internal/router"
)

// AppOptions controls how the Fiber application dispatches requests.
type AppOptions struct {
	Logger *logrus.Logger
	// Table holds plugin routes and the control API; it is consulted before
	// any route registered directly on the returned app.
	Table *router.Table
}

const contextKeyRequestID = "_plughub_request_id"

// NewApp builds a Fiber application whose first dispatch stage is the
// mutable route table. Requests the table does not match continue to
// routes registered on the app (diagnostics), and finally to a JSON 404.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Table == nil {
		return nil, errors.New("route table is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  jsonErrorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.Use(accessLogMiddleware(opts.Logger))
	app.Use(opts.Table.Handler())

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := c.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// accessLogMiddleware 记录方法、路径、状态码与耗时；诊断路径降为 debug。
func accessLogMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
		}

		entry := logger.WithFields(logging.RequestFields(RequestID(c), c.Method(), c.Path(), status)).
			WithField("latency_ms", time.Since(started).Milliseconds())
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Warn("request_completed")
		case isDiagnosticsPath(c.Path()):
			entry.Debug("request_completed")
		default:
			entry.Info("request_completed")
		}
		return err
	}
}

// jsonErrorHandler 将未处理的错误统一渲染为 JSON，不向客户端暴露堆栈。
func jsonErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "internal_error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
			message = fiberErr.Message
		}
		if status == fiber.StatusNotFound {
			message = "not_found"
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithError(err).WithField("request_id", RequestID(c)).Error("request_failed")
		}

		return c.Status(status).JSON(fiber.Map{
			"error": message,
		})
	}
}

// RequestID returns the request identifier stored by the request middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
