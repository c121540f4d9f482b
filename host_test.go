package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/plughub/internal/config"
	"github.com/any-hub/plughub/internal/logging"
	"github.com/any-hub/plughub/internal/subserver"
)

func testConfig(t *testing.T, pluginDir string, explicit ...config.SubserverConfig) *config.Config {
	t.Helper()
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      9001,
			LogLevel:        "info",
			BaseURL:         "/plugins/",
			PluginDir:       pluginDir,
			DefaultRuntime:  "lua",
			UpstreamTimeout: config.Duration(5 * time.Second),
			ShutdownTimeout: config.Duration(time.Second),
		},
		Subservers: explicit,
	}
}

func writePlugin(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入插件失败: %v", err)
	}
}

func doHostRequest(t *testing.T, app *fiber.App, method, path, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	resp, err := app.Test(httptest.NewRequest(method, path, reader))
	if err != nil {
		t.Fatalf("%s %s 失败: %v", method, path, err)
	}
	payload, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(payload)
}

func TestHostLifecycle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "upstream %s", r.URL.Path)
	}))
	defer upstream.Close()

	pluginDir := t.TempDir()
	writePlugin(t, filepath.Join(pluginDir, "hello.lua"), `return function(prefix, app)
  app.get(prefix, function(req, res) res.send("hello") end)
end
`)
	writePlugin(t, filepath.Join(pluginDir, "site.hcl"), fmt.Sprintf(`
route "GET" "api/*" {
  upstream = %q
}
`, upstream.URL))
	extra := filepath.Join(t.TempDir(), "custom.lua")
	writePlugin(t, extra, `return function(prefix, app)
  app.get(prefix .. "name", function(req, res) res.json({ prefix = prefix }) end)
end
`)

	cfg := testConfig(t, pluginDir, config.SubserverConfig{Name: "extra", Location: extra})
	h, err := newHost(cfg, logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("构建宿主失败: %v", err)
	}
	if err := h.start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}

	if status, body := doHostRequest(t, h.app, "GET", "/plugins/hello/", ""); status != 200 || body != "hello" {
		t.Fatalf("lua 插件响应异常: %d %s", status, body)
	}
	if _, body := doHostRequest(t, h.app, "GET", "/plugins/site/api/items", ""); body != "upstream /items" {
		t.Fatalf("hcl 上游转发异常: %s", body)
	}
	if _, body := doHostRequest(t, h.app, "GET", "/plugins/extra/name", ""); body != `{"prefix":"/plugins/extra/"}` {
		t.Fatalf("显式配置的 subserver 响应异常: %s", body)
	}

	_, listed := doHostRequest(t, h.app, "GET", "/-/subservers", "")
	var infos []subserver.Info
	if err := json.Unmarshal([]byte(listed), &infos); err != nil {
		t.Fatalf("解析诊断输出失败: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("期望 3 个 subserver，得到 %d", len(infos))
	}
	for _, info := range infos {
		if info.State != subserver.StateLoaded {
			t.Fatalf("%s 未加载: %s", info.Name, info.LastError)
		}
	}

	h.stop(context.Background())
	if h.table.Len() != 6 {
		t.Fatalf("卸载后只应保留控制接口路由，得到 %d", h.table.Len())
	}
	if status, body := doHostRequest(t, h.app, "GET", "/plugins/hello/", ""); status != 404 || !strings.Contains(body, "not supported") {
		t.Fatalf("卸载后前缀应回落到兜底路由: %d %s", status, body)
	}
}

func TestHostWatchesPluginDir(t *testing.T) {
	pluginDir := filepath.Join(t.TempDir(), "subservers")
	cfg := testConfig(t, pluginDir)
	cfg.Global.WatchPluginDir = true

	h, err := newHost(cfg, logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("构建宿主失败: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}

	writePlugin(t, filepath.Join(pluginDir, "late.lua"), `return function(prefix, app)
  app.get(prefix, function(req, res) res.send("late") end)
end
`)
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, body := doHostRequest(t, h.app, "GET", "/plugins/late/", "")
		if body == "late" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("目录监听未加载新插件，最后响应 %s", body)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStartHTTPServerShutsDownOnCancel(t *testing.T) {
	pluginDir := t.TempDir()
	writePlugin(t, filepath.Join(pluginDir, "hello.lua"), `return function(prefix, app)
  app.get(prefix, function(req, res) res.send("hello") end)
end
`)
	cfg := testConfig(t, pluginDir)
	cfg.Global.ListenPort = 0

	logger := logging.NewDiscardLogger()
	h, err := newHost(cfg, logger)
	if err != nil {
		t.Fatalf("构建宿主失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- startHTTPServer(ctx, h, logger)
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("关闭失败: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("服务未在超时内关闭")
	}

	sub, ok := h.registry.Get("hello")
	if !ok || sub.State() != subserver.StateUnloaded {
		t.Fatalf("关闭后所有 subserver 应被卸载")
	}
}
