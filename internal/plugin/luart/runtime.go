// Package luart 注册基于 gopher-lua 的插件运行时。
//
// 插件源码必须返回入口函数：
//
//	return function(prefix, app)
//	  app.get(prefix, function(req, res)
//	    res.send("hello")
//	  end)
//	end
//
// 编译结果（FunctionProto）在 Loader 中缓存并跨 LState 共享；每次 start 都会创建新的 LState。
package luart

import (
	"bytes"
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/any-hub/plughub/internal/plugin"
)

// RuntimeKey 是 Lua 运行时在注册表中的键。
const RuntimeKey = "lua"

func init() {
	plugin.MustRegister(plugin.RuntimeMetadata{
		Key:         RuntimeKey,
		Description: "Lua subservers executed by gopher-lua; the chunk returns function(prefix, app)",
		Extensions:  []string{".lua"},
		Compile:     Compile,
	})
}

// Compile 解析并编译 Lua 源码。
func Compile(location string, source []byte) (plugin.Program, error) {
	chunk, err := parse.Parse(bytes.NewReader(source), location)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, location)
	if err != nil {
		return nil, err
	}
	return &program{name: location, proto: proto}, nil
}

type program struct {
	name  string
	proto *lua.FunctionProto
}

// Register 在新的 LState 中执行 chunk，再以 (prefix, app) 调用其返回的入口函数。
func (p *program) Register(ctx context.Context, env plugin.Env) (plugin.Instance, error) {
	L := newState()
	inst := &instance{L: L, env: env}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := inst.register(p.proto); err != nil {
		inst.closed = true
		L.Close()
		return nil, err
	}
	return inst, nil
}

func (i *instance) register(proto *lua.FunctionProto) error {
	L := i.L
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return fmt.Errorf("run chunk: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	entry, ok := ret.(*lua.LFunction)
	if !ok {
		return fmt.Errorf("chunk must return function(prefix, app), got %s", ret.Type().String())
	}

	i.app = i.newAppTable()
	i.registering = true
	defer func() { i.registering = false }()
	if err := L.CallByParam(lua.P{Fn: entry, NRet: 0, Protect: true}, lua.LString(i.env.Prefix), i.app); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}
	return nil
}

// newState 只开放纯计算类标准库，插件通过 app 对象访问宿主能力。
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(pair.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.name)); err != nil {
			panic(err)
		}
	}
	return L
}
