package luart

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	lua "github.com/yuin/gopher-lua"

	"github.com/any-hub/plughub/internal/router"
)

// handler 把 Lua 函数包装成 fiber.Handler。
func (i *instance) handler(fn *lua.LFunction) fiber.Handler {
	return func(c fiber.Ctx) error {
		i.mu.Lock()
		if i.closed {
			i.mu.Unlock()
			return c.Next()
		}
		res, err := i.invoke(c, fn)
		i.mu.Unlock()

		if err != nil {
			if i.env.Logger != nil {
				i.env.Logger.WithError(err).
					WithField("subserver", i.env.Name).
					WithField("path", c.Path()).
					Error("lua_handler_failed")
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "subserver handler failed",
				"name":  i.env.Name,
			})
		}
		return res.write(c)
	}
}

func (i *instance) invoke(c fiber.Ctx, fn *lua.LFunction) (res *response, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("panic in lua handler: %v", r)
		}
	}()

	L := i.L
	res = &response{status: fiber.StatusOK}
	req := newRequestTable(L, c)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, req, res.table(L)); err != nil {
		return nil, err
	}
	return res, nil
}

func newRequestTable(L *lua.LState, c fiber.Ctx) *lua.LTable {
	req := L.NewTable()
	L.SetField(req, "method", lua.LString(c.Method()))
	L.SetField(req, "path", lua.LString(c.Path()))
	L.SetField(req, "ip", lua.LString(c.IP()))
	L.SetField(req, "body", lua.LString(c.Body()))

	params := L.NewTable()
	for key, value := range router.Params(c) {
		params.RawSetString(key, lua.LString(value))
	}
	L.SetField(req, "params", params)

	query := L.NewTable()
	for key, value := range c.Queries() {
		query.RawSetString(key, lua.LString(value))
	}
	L.SetField(req, "query", query)

	headers := L.NewTable()
	for key, values := range c.GetReqHeaders() {
		headers.RawSetString(strings.ToLower(key), lua.LString(strings.Join(values, ", ")))
	}
	L.SetField(req, "headers", headers)
	return req
}

type response struct {
	status      int
	headers     [][2]string
	contentType string
	body        []byte
	self        *lua.LTable
}

// table 构造 Lua 侧的 res 对象；res.x(...) 与 res:x(...) 均可用。
func (r *response) table(L *lua.LState) *lua.LTable {
	r.self = L.NewTable()
	L.SetField(r.self, "status", L.NewFunction(r.setStatus))
	L.SetField(r.self, "set", L.NewFunction(r.setHeader))
	L.SetField(r.self, "type", L.NewFunction(r.setType))
	L.SetField(r.self, "send", L.NewFunction(r.send))
	L.SetField(r.self, "json", L.NewFunction(r.sendJSON))
	return r.self
}

func (r *response) argBase(L *lua.LState) int {
	if tbl, ok := L.Get(1).(*lua.LTable); ok && tbl == r.self {
		return 2
	}
	return 1
}

func (r *response) setStatus(L *lua.LState) int {
	code := L.CheckInt(r.argBase(L))
	if code < 100 || code > 999 {
		L.ArgError(r.argBase(L), "invalid status code")
		return 0
	}
	r.status = code
	L.Push(r.self)
	return 1
}

func (r *response) setHeader(L *lua.LState) int {
	base := r.argBase(L)
	r.headers = append(r.headers, [2]string{L.CheckString(base), L.CheckString(base + 1)})
	L.Push(r.self)
	return 1
}

func (r *response) setType(L *lua.LState) int {
	r.contentType = L.CheckString(r.argBase(L))
	L.Push(r.self)
	return 1
}

func (r *response) send(L *lua.LState) int {
	value := L.Get(r.argBase(L))
	switch v := value.(type) {
	case *lua.LTable:
		return r.encodeJSON(L, v)
	case *lua.LNilType:
		r.body = nil
	default:
		r.body = []byte(L.ToStringMeta(v).String())
	}
	L.Push(r.self)
	return 1
}

func (r *response) sendJSON(L *lua.LState) int {
	return r.encodeJSON(L, L.Get(r.argBase(L)))
}

func (r *response) encodeJSON(L *lua.LState, value lua.LValue) int {
	decoded, err := toGo(value)
	if err != nil {
		L.RaiseError("json: %s", err.Error())
		return 0
	}
	payload, err := json.Marshal(decoded)
	if err != nil {
		L.RaiseError("json: %s", err.Error())
		return 0
	}
	if r.contentType == "" {
		r.contentType = fiber.MIMEApplicationJSON
	}
	r.body = payload
	L.Push(r.self)
	return 1
}

func (r *response) write(c fiber.Ctx) error {
	for _, header := range r.headers {
		c.Set(header[0], header[1])
	}
	if r.contentType != "" {
		c.Set(fiber.HeaderContentType, r.contentType)
	}
	return c.Status(r.status).Send(r.body)
}
