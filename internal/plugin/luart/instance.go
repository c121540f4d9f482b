package luart

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	lua "github.com/yuin/gopher-lua"

	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/router"
)

// maxFetchBody 限制 app.fetch 读入 Lua 的上游响应体大小。
const maxFetchBody = 4 << 20

// instance 持有一个 LState；LState 不是并发安全的，所有进入 Lua 的调用都经过 mu。
// registering 只在执行入口函数期间为 true，路由登记必须落在这段时间内才会被追踪归属。
type instance struct {
	mu          sync.Mutex
	L           *lua.LState
	env         plugin.Env
	app         *lua.LTable
	closed      bool
	registering bool
}

// Close 关闭 LState，之后命中的 handler 直接交给后续链路。
func (i *instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	i.L.Close()
	return nil
}

func (i *instance) newAppTable() *lua.LTable {
	L := i.L
	app := L.NewTable()
	for name, method := range map[string]string{
		"get":    fiber.MethodGet,
		"post":   fiber.MethodPost,
		"put":    fiber.MethodPut,
		"delete": fiber.MethodDelete,
		"patch":  fiber.MethodPatch,
		"all":    router.MethodAll,
	} {
		L.SetField(app, name, L.NewFunction(i.routeFunc(name, method)))
	}
	L.SetField(app, "log", L.NewFunction(i.logFunc))
	L.SetField(app, "fetch", L.NewFunction(i.fetchFunc))
	L.SetField(app, "name", lua.LString(i.env.Name))
	L.SetField(app, "prefix", lua.LString(i.env.Prefix))
	return app
}

// argBase 兼容 app.get(...) 与 app:get(...) 两种调用方式。
func (i *instance) argBase(L *lua.LState) int {
	if tbl, ok := L.Get(1).(*lua.LTable); ok && tbl == i.app {
		return 2
	}
	return 1
}

func (i *instance) routeFunc(name, method string) lua.LGFunction {
	return func(L *lua.LState) int {
		if !i.registering {
			L.RaiseError("app.%s is only available during registration", name)
			return 0
		}
		base := i.argBase(L)
		pattern := L.CheckString(base)
		fn := L.CheckFunction(base + 1)
		i.env.App.Register(method, pattern, i.handler(fn))
		return 0
	}
}

func (i *instance) logFunc(L *lua.LState) int {
	base := i.argBase(L)
	parts := make([]string, 0, L.GetTop())
	for n := base; n <= L.GetTop(); n++ {
		parts = append(parts, L.ToStringMeta(L.Get(n)).String())
	}
	if i.env.Logger != nil {
		i.env.Logger.WithField("subserver", i.env.Name).Info(strings.Join(parts, " "))
	}
	return 0
}

func (i *instance) fetchFunc(L *lua.LState) int {
	base := i.argBase(L)
	target := L.CheckString(base)

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	status, body, err := i.fetch(ctx, target)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(status))
	L.Push(lua.LString(body))
	return 2
}

func (i *instance) fetch(ctx context.Context, target string) (int, []byte, error) {
	client := i.env.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream body: %w", err)
	}
	return resp.StatusCode, body, nil
}
