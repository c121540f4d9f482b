package main

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/config"
	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/router"
	"github.com/any-hub/plughub/internal/server"
	"github.com/any-hub/plughub/internal/server/routes"
	"github.com/any-hub/plughub/internal/storage"
	"github.com/any-hub/plughub/internal/subserver"
)

// host 聚合一次进程生命周期内共享的组件。
type host struct {
	cfg      *config.Config
	logger   *logrus.Logger
	table    *router.Table
	registry *subserver.Registry
	ctrl     *subserver.Controller
	app      *fiber.App
}

func newHost(cfg *config.Config, logger *logrus.Logger) (*host, error) {
	store := storage.NewStore()
	table := router.NewTable()

	registry := subserver.NewRegistry(subserver.Options{
		BaseURL:          cfg.Global.BaseURL,
		PluginDir:        cfg.Global.PluginDir,
		DefaultExtension: cfg.Global.RuntimeExtension(),
		Explicit:         cfg.Subservers,
		Store:            store,
		Loader:           plugin.NewLoader(store),
		Tracker:          subserver.NewTracker(),
		Client:           server.NewUpstreamClient(cfg),
		Logger:           logger,
	})
	ctrl := subserver.NewController(registry, table)

	// 控制接口先于任何插件登记，插件路由启动时再移动到队首。
	routes.RegisterSubserverRoutes(table, ctrl, cfg.Global.BaseURL, logger)

	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Table:  table,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticRoutes(app, registry, table)

	return &host{
		cfg:      cfg,
		logger:   logger,
		table:    table,
		registry: registry,
		ctrl:     ctrl,
		app:      app,
	}, nil
}

// start 对应 starting 通知：加载全部 Subserver，并按配置开启目录监听。
func (h *host) start(ctx context.Context) error {
	if err := h.registry.Bootstrap(ctx, h.table); err != nil {
		return err
	}
	if h.cfg.Global.WatchPluginDir {
		watcher := subserver.NewWatcher(h.ctrl, h.logger)
		if err := watcher.Start(ctx); err != nil {
			h.logger.WithError(err).Warn("watcher_start_failed")
		}
	}
	return nil
}

// stop 对应 stopping 通知：卸载全部 Subserver。
func (h *host) stop(ctx context.Context) {
	h.registry.UnloadAll(ctx, h.table)
	h.logger.WithField("action", "shutdown").Info("subservers_unloaded")
}
