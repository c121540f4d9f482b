// Package hclrt 注册声明式的 HCL 插件运行时。
//
// 插件文件由若干 route 块组成，表达式在每次请求时求值：
//
//	route "GET" "hello/:who" {
//	  status = 200
//	  body   = "hi ${request.params.who}"
//	}
//
//	route "ALL" "api/*" {
//	  upstream = "http://127.0.0.1:8080"
//	}
package hclrt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/router"
)

// RuntimeKey 是 HCL 运行时在注册表中的键。
const RuntimeKey = "hcl"

func init() {
	plugin.MustRegister(plugin.RuntimeMetadata{
		Key:         RuntimeKey,
		Description: "Declarative HCL route blocks evaluated per request (status, body, headers, content_type, upstream)",
		Extensions:  []string{".hcl"},
		Compile:     Compile,
	})
}

type fileSchema struct {
	Routes []*routeBlock `hcl:"route,block"`
}

type routeBlock struct {
	Method      string         `hcl:"method,label"`
	Path        string         `hcl:"path,label"`
	Status      hcl.Expression `hcl:"status,optional"`
	Body        hcl.Expression `hcl:"body,optional"`
	Headers     hcl.Expression `hcl:"headers,optional"`
	ContentType hcl.Expression `hcl:"content_type,optional"`
	Upstream    hcl.Expression `hcl:"upstream,optional"`
}

var allowedMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	router.MethodAll:   {},
}

// 表达式只能引用这些根变量。
var allowedRoots = map[string]struct{}{
	"request": {},
	"prefix":  {},
}

// Compile 解析 HCL 源码并做静态校验；表达式本身留到请求时求值。
func Compile(location string, source []byte) (plugin.Program, error) {
	file, diags := hclparse.NewParser().ParseHCL(source, location)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %s", location, diags.Error())
	}

	var parsed fileSchema
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %s", location, diags.Error())
	}

	for _, route := range parsed.Routes {
		if err := validateRoute(route); err != nil {
			return nil, err
		}
	}
	return &program{routes: parsed.Routes}, nil
}

func validateRoute(route *routeBlock) error {
	route.Method = strings.ToUpper(strings.TrimSpace(route.Method))
	if _, ok := allowedMethods[route.Method]; !ok {
		return fmt.Errorf("route %q %q: unsupported method", route.Method, route.Path)
	}
	for _, expr := range []hcl.Expression{route.Status, route.Body, route.Headers, route.ContentType, route.Upstream} {
		for _, traversal := range expr.Variables() {
			if _, ok := allowedRoots[traversal.RootName()]; !ok {
				return fmt.Errorf("%s: unknown variable %q", traversal.SourceRange(), traversal.RootName())
			}
		}
	}
	if !isNull(route.Upstream) && !isNull(route.Body) {
		return fmt.Errorf("route %q %q: upstream and body are mutually exclusive", route.Method, route.Path)
	}
	return nil
}

// isNull 判断可选属性是否缺省；引用了变量或函数的表达式不视为缺省。
func isNull(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	value, diags := expr.Value(nil)
	return !diags.HasErrors() && value.IsNull()
}

type program struct {
	routes []*routeBlock
}

// Register 按声明顺序把 route 块登记到 prefix 下。
func (p *program) Register(_ context.Context, env plugin.Env) (plugin.Instance, error) {
	inst := &instance{env: env, funcs: functions()}
	for _, route := range p.routes {
		env.App.Register(route.Method, joinPattern(env.Prefix, route.Path), inst.handler(route))
	}
	return inst, nil
}

func joinPattern(prefix, path string) string {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + path
}

type instance struct {
	env    plugin.Env
	funcs  functionTable
	closed atomic.Bool
}

// Close 实现 plugin.Instance；HCL 路由没有运行期资源，只标记关闭。
func (i *instance) Close() error {
	i.closed.Store(true)
	return nil
}
