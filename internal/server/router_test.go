package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/router"
)

func newTestApp(t *testing.T) (*fiber.App, *router.Table, *bytes.Buffer) {
	t.Helper()

	logger := logrus.New()
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	table := router.NewTable()
	app, err := NewApp(AppOptions{Logger: logger, Table: table})
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	return app, table, buf
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{Table: router.NewTable()}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("expected error without route table")
	}
}

func TestTableRoutesAreDispatchedFirst(t *testing.T) {
	app, table, logs := newTestApp(t)
	table.Register("GET", "/plugins/foo/hello", func(c fiber.Ctx) error {
		return c.SendString("from table")
	})
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/plugins/foo/hello", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "from table" {
		t.Fatalf("unexpected body %s", string(body))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if !bytes.Contains(logs.Bytes(), []byte(`"request_completed"`)) {
		t.Fatalf("expected access log entry, got %s", logs.String())
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Fatalf("unmatched table requests should reach app routes, got %s", string(body))
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	app, _, _ := newTestApp(t)
	app.Get("/-/id", func(c fiber.Ctx) error {
		return c.SendString(RequestID(c))
	})

	req := httptest.NewRequest("GET", "/-/id", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "fixed-id" || resp.Header.Get("X-Request-ID") != "fixed-id" {
		t.Fatalf("incoming request id should be reused, got %s", string(body))
	}
}

func TestUnknownPathReturnsJSON404(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/nowhere", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"not_found"`)) {
		t.Fatalf("expected not_found error, got %s", string(body))
	}
}

func TestPanicsAreRecovered(t *testing.T) {
	app, table, _ := newTestApp(t)
	table.Register("GET", "/boom", func(c fiber.Ctx) error {
		panic("boom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if bytes.Contains(body, []byte("goroutine")) {
		t.Fatalf("stack traces must not leak: %s", string(body))
	}
}
