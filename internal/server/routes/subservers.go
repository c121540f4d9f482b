package routes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/router"
	"github.com/any-hub/plughub/internal/subserver"
)

// RegisterSubserverRoutes 把控制接口登记为路由表中的宿主路由，位于 baseURL 之下：
//
//	GET    <base>subservers
//	GET    <base>subservers/:name
//	PUT    <base>subservers/:name
//	POST   <base>subservers/:name/unload
//	DELETE <base>subservers/:name
//	ALL    <base>*  → 404 not supported
//
// 插件路由启动后会被移动到列表队首，因此不会被末尾的兜底路由遮蔽。
func RegisterSubserverRoutes(table *router.Table, ctrl *subserver.Controller, baseURL string, logger logrus.FieldLogger) {
	if table == nil || ctrl == nil {
		return
	}
	h := &controlHandler{ctrl: ctrl, logger: logger}
	collection := baseURL + "subservers"

	table.Register(fiber.MethodGet, collection, h.list)
	table.Register(fiber.MethodGet, collection+"/:name", h.getSource)
	table.Register(fiber.MethodPut, collection+"/:name", h.setSource)
	table.Register(fiber.MethodPost, collection+"/:name/unload", h.unload)
	table.Register(fiber.MethodDelete, collection+"/:name", h.remove)
	table.Register(router.MethodAll, baseURL+"*", notSupported)
}

type controlHandler struct {
	ctrl   *subserver.Controller
	logger logrus.FieldLogger
}

type setSourcePayload struct {
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

func (h *controlHandler) list(c fiber.Ctx) error {
	names := h.ctrl.ListNames()
	if names == nil {
		names = []string{}
	}
	return c.JSON(names)
}

func (h *controlHandler) getSource(c fiber.Ctx) error {
	name := router.Param(c, "name")
	source, err := h.ctrl.GetSource(c.UserContext(), name)
	if err != nil {
		return h.renderError(c, name, "get_source", err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Send(source)
}

func (h *controlHandler) setSource(c fiber.Ctx) error {
	name := router.Param(c, "name")
	// fasthttp 会复用请求体缓冲区，写入前先复制。
	body := append([]byte(nil), c.Body()...)

	created, err := h.ctrl.SetSource(c.UserContext(), name, body)
	if err != nil {
		return h.renderError(c, name, "set_source", err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	h.log(name, "set_source").WithField("created", created).Info("subserver_source_updated")
	return c.Status(status).JSON(setSourcePayload{Name: name, Created: created})
}

func (h *controlHandler) unload(c fiber.Ctx) error {
	name := router.Param(c, "name")
	if err := h.ctrl.Unload(c.UserContext(), name); err != nil {
		return h.renderError(c, name, "unload", err)
	}
	h.log(name, "unload").Info("subserver_unloaded_by_request")
	return c.JSON(fiber.Map{"name": name, "state": subserver.StateUnloaded})
}

func (h *controlHandler) remove(c fiber.Ctx) error {
	name := router.Param(c, "name")
	if err := h.ctrl.Delete(c.UserContext(), name); err != nil {
		return h.renderError(c, name, "delete", err)
	}
	h.log(name, "delete").Info("subserver_deleted_by_request")
	return c.JSON(fiber.Map{"name": name, "state": subserver.StateDeleted})
}

func notSupported(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fmt.Sprintf("%s %s not supported", c.Method(), c.Path()),
	})
}

// renderError 将控制层错误映射为 HTTP 状态码；响应只包含首行错误信息，细节留在日志中。
func (h *controlHandler) renderError(c fiber.Ctx, name, action string, err error) error {
	var loadErr *subserver.LoadError
	switch {
	case errors.As(err, &loadErr):
	case errors.Is(err, subserver.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subserver not found"})
	case errors.Is(err, subserver.ErrInvalidName):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid subserver name",
			"name":  name,
		})
	}

	h.log(name, action).WithError(err).Error("subserver_control_failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": firstLine(err.Error()),
		"name":  name,
	})
}

func (h *controlHandler) log(name, action string) *logrus.Entry {
	logger := h.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{"subserver": name, "action": action})
}

func firstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return message[:idx]
	}
	return message
}
