package plugin

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/router"
)

// Registrar 是插件可见的路由登记能力，宿主路由表天然满足该接口。
type Registrar interface {
	Register(method, pattern string, handler fiber.Handler) *router.Route
}

// Env 描述执行插件入口时注入的上下文。
type Env struct {
	Name   string
	Prefix string
	App    Registrar
	Logger logrus.FieldLogger
	// Client 供插件访问上游服务，超时由宿主配置统一控制。
	Client *http.Client
}

// Program 是编译后的插件，可被多次实例化；同一 Program 不持有任何运行期状态。
type Program interface {
	// Register 执行插件入口，在 env.App 上登记路由并返回运行期实例。
	// 返回错误时调用方负责清理已经登记的路由。
	Register(ctx context.Context, env Env) (Instance, error)
}

// Instance 是插件的运行期状态，卸载时关闭。
type Instance interface {
	Close() error
}

// CompileFunc 将源码编译为 Program，语法错误应在此阶段暴露。
type CompileFunc func(location string, source []byte) (Program, error)

// RuntimeMetadata 记录一个插件运行时的静态信息，供 Loader 分派与诊断端使用。
type RuntimeMetadata struct {
	Key         string
	Description string
	Extensions  []string
	Compile     CompileFunc
}

// NopInstance 用于没有运行期状态的运行时。
type NopInstance struct{}

// Close 实现 Instance。
func (NopInstance) Close() error { return nil }
