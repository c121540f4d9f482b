package subserver

import (
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/plughub/internal/config"
	"github.com/any-hub/plughub/internal/logging"
	_ "github.com/any-hub/plughub/internal/plugin/hclrt"
	_ "github.com/any-hub/plughub/internal/plugin/luart"
	"github.com/any-hub/plughub/internal/router"
	"github.com/any-hub/plughub/internal/storage"
)

const testBaseURL = "/plugins/"

func newTestRegistry(t *testing.T, dir string, explicit ...config.SubserverConfig) (*Registry, *router.Table) {
	t.Helper()
	registry := NewRegistry(Options{
		BaseURL:          testBaseURL,
		PluginDir:        dir,
		DefaultExtension: ".lua",
		Explicit:         explicit,
		Store:            storage.NewStore(),
		Logger:           logging.NewDiscardLogger(),
	})
	return registry, router.NewTable()
}

func helloSource(text string) string {
	return fmt.Sprintf(`return function(prefix, app)
  app.get(prefix .. "hello", function(req, res) res.send(%q) end)
end
`, text)
}

func writeSource(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
}

func serve(t *testing.T, table *router.Table, method, path string) (int, string) {
	t.Helper()
	app := fiber.New()
	app.Use(table.Handler())
	app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).SendString("no route")
	})

	resp, err := app.Test(httptest.NewRequest(method, path, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}
