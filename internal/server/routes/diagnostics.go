package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/router"
	"github.com/any-hub/plughub/internal/subserver"
)

// RegisterDiagnosticRoutes 暴露 /-/ 诊断接口，供运维查询 Subserver、运行时与路由表状态。
func RegisterDiagnosticRoutes(app *fiber.App, registry *subserver.Registry, table *router.Table) {
	if app == nil || registry == nil || table == nil {
		return
	}

	app.Get("/-/subservers", func(c fiber.Ctx) error {
		return c.JSON(encodeSubservers(registry.List()))
	})

	app.Get("/-/runtimes", func(c fiber.Ctx) error {
		return c.JSON(encodeRuntimes(plugin.List()))
	})

	app.Get("/-/routes", func(c fiber.Ctx) error {
		return c.JSON(encodeRoutes(table.Snapshot(), ownersByRoute(registry.List())))
	})
}

type runtimePayload struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Extensions  []string `json:"extensions"`
}

type routePayload struct {
	ID      uint64 `json:"id"`
	Pattern string `json:"pattern"`
	Owner   string `json:"owner,omitempty"`
}

func encodeSubservers(subs []*subserver.Subserver) []subserver.Info {
	result := make([]subserver.Info, 0, len(subs))
	for _, sub := range subs {
		result = append(result, sub.Info())
	}
	return result
}

func encodeRuntimes(runtimes []plugin.RuntimeMetadata) []runtimePayload {
	sort.Slice(runtimes, func(i, j int) bool {
		return runtimes[i].Key < runtimes[j].Key
	})
	result := make([]runtimePayload, 0, len(runtimes))
	for _, meta := range runtimes {
		result = append(result, runtimePayload{
			Key:         meta.Key,
			Description: meta.Description,
			Extensions:  append([]string(nil), meta.Extensions...),
		})
	}
	return result
}

func encodeRoutes(snapshot map[string][]*router.Route, owners map[*router.Route]string) map[string][]routePayload {
	result := make(map[string][]routePayload, len(snapshot))
	for method, routes := range snapshot {
		encoded := make([]routePayload, 0, len(routes))
		for _, route := range routes {
			encoded = append(encoded, routePayload{
				ID:      route.ID,
				Pattern: route.Pattern,
				Owner:   owners[route],
			})
		}
		result[method] = encoded
	}
	return result
}

func ownersByRoute(subs []*subserver.Subserver) map[*router.Route]string {
	owners := make(map[*router.Route]string)
	for _, sub := range subs {
		for _, route := range sub.Owned() {
			owners[route] = sub.Name()
		}
	}
	return owners
}
