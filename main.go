package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/config"
	"github.com/any-hub/plughub/internal/logging"
	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["subservers"] = config.SubserverNames(cfg.Subservers)
		fields["plugin_dir"] = cfg.Global.PluginDir
		fields["runtimes"] = plugin.Keys()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 路由表 → Registry/Controller → Fiber app，
	// 控制接口与插件路由共享同一张路由表。
	h, err := newHost(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建宿主失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["base_url"] = cfg.Global.BaseURL
	fields["plugin_dir"] = cfg.Global.PluginDir
	fields["runtimes"] = plugin.Keys()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startHTTPServer(ctx, h, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("plughub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PLUGHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PLUGHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// startHTTPServer 启动所有 Subserver 后开始监听，ctx 取消时按 ShutdownTimeout
// 关闭 Fiber，再卸载全部 Subserver。
func startHTTPServer(ctx context.Context, h *host, logger *logrus.Logger) error {
	if err := h.start(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", h.cfg.Global.ListenPort)
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   h.cfg.Global.ListenPort,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		h.stop(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，开始关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.Global.ShutdownTimeout.DurationValue())
	defer cancel()
	err := h.app.ShutdownWithContext(shutdownCtx)
	h.stop(context.Background())
	return err
}
