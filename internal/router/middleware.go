package router

import "github.com/gofiber/fiber/v3"

const (
	contextKeyParams = "_plughub_route_params"
	contextKeyRoute  = "_plughub_route"
)

// Handler 返回挂载到 Fiber 的分发中间件：命中路由表则调用对应 handler，否则交给后续链路。
// 查找期间持有读锁，调用 handler 前已释放，插件 handler 内部可以安全地修改路由表。
func (t *Table) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		route, params, ok := t.Lookup(c.Method(), c.Path())
		if !ok {
			return c.Next()
		}
		c.Locals(contextKeyRoute, route)
		c.Locals(contextKeyParams, params)
		return route.Handler(c)
	}
}

// Params 返回当前请求命中路由时解析出的路径参数。
func Params(c fiber.Ctx) map[string]string {
	if value := c.Locals(contextKeyParams); value != nil {
		if params, ok := value.(map[string]string); ok {
			return params
		}
	}
	return nil
}

// Param 返回单个路径参数，不存在时为空字符串。
func Param(c fiber.Ctx, key string) string {
	return Params(c)[key]
}

// Matched 返回当前请求命中的路由。
func Matched(c fiber.Ctx) (*Route, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*Route); ok {
			return route, true
		}
	}
	return nil, false
}
