package subserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/any-hub/plughub/internal/router"
)

func newTestController(t *testing.T) (*Controller, *router.Table, string) {
	t.Helper()
	dir := t.TempDir()
	registry, table := newTestRegistry(t, dir)
	return NewController(registry, table), table, dir
}

func TestControllerLifecycle(t *testing.T) {
	ctrl, table, dir := newTestController(t)
	ctx := context.Background()

	created, err := ctrl.SetSource(ctx, "foo", []byte(helloSource("v1")))
	if err != nil || !created {
		t.Fatalf("first set: created=%v err=%v", created, err)
	}
	if _, body := serve(t, table, "GET", "/plugins/foo/hello"); body != "v1" {
		t.Fatalf("unexpected body %q", body)
	}

	source, err := ctrl.GetSource(ctx, "foo")
	if err != nil || string(source) != helloSource("v1") {
		t.Fatalf("round trip failed: %q %v", source, err)
	}

	created, err = ctrl.SetSource(ctx, "foo", []byte(helloSource("v2")))
	if err != nil || created {
		t.Fatalf("second set: created=%v err=%v", created, err)
	}
	if _, body := serve(t, table, "GET", "/plugins/foo/hello"); body != "v2" {
		t.Fatalf("reload not visible, got %q", body)
	}

	if err := ctrl.Unload(ctx, "foo"); err != nil {
		t.Fatalf("unload failed: %v", err)
	}
	if status, _ := serve(t, table, "GET", "/plugins/foo/hello"); status != 404 {
		t.Fatalf("unloaded route still served: %d", status)
	}
	if names := ctrl.ListNames(); !reflect.DeepEqual(names, []string{"foo"}) {
		t.Fatalf("unload must keep the entry, got %v", names)
	}

	// 已卸载的 Subserver 在下一次写入后重新启动
	if _, err := ctrl.SetSource(ctx, "foo", []byte(helloSource("v3"))); err != nil {
		t.Fatalf("set after unload failed: %v", err)
	}
	if _, body := serve(t, table, "GET", "/plugins/foo/hello"); body != "v3" {
		t.Fatalf("expected v3, got %q", body)
	}

	if err := ctrl.Delete(ctx, "foo"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "foo.lua")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source should be removed")
	}
	if len(ctrl.ListNames()) != 0 {
		t.Fatalf("deleted name still listed")
	}
	for name, err := range map[string]error{
		"get":    errOnly(ctrl.GetSource(ctx, "foo")),
		"unload": ctrl.Unload(ctx, "foo"),
		"delete": ctrl.Delete(ctx, "foo"),
	} {
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s after delete: expected NotFound, got %v", name, err)
		}
	}
	if table.Len() != 0 {
		t.Fatalf("route table should be empty, has %d", table.Len())
	}
}

func errOnly(_ []byte, err error) error { return err }

func TestSetSourceKeepsBrokenSourceOnDisk(t *testing.T) {
	ctrl, table, dir := newTestController(t)
	ctx := context.Background()

	created, err := ctrl.SetSource(ctx, "bad", []byte("return function("))
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || !created {
		t.Fatalf("expected LoadError on creation, created=%v err=%v", created, err)
	}
	data, readErr := os.ReadFile(filepath.Join(dir, "bad.lua"))
	if readErr != nil || string(data) != "return function(" {
		t.Fatalf("source should stay on disk: %v", readErr)
	}
	if table.Len() != 0 {
		t.Fatalf("failed start must not leave routes")
	}
	if !reflect.DeepEqual(ctrl.ListNames(), []string{"bad"}) {
		t.Fatalf("entry should be kept after a load failure")
	}
}

func TestSetSourceRejectsInvalidName(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	if _, err := ctrl.SetSource(context.Background(), "subservers", []byte("x")); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestSyncSkipsUnchangedDigest(t *testing.T) {
	ctrl, table, dir := newTestController(t)
	ctx := context.Background()
	location := filepath.Join(dir, "foo.lua")
	writeSource(t, location, helloSource("v1"))

	if err := ctrl.Sync(ctx, "foo", location); err != nil {
		t.Fatalf("sync adopt failed: %v", err)
	}
	sub, ok := ctrl.Registry().Get("foo")
	if !ok || sub.State() != StateLoaded {
		t.Fatalf("new file should be adopted and started")
	}
	first := sub.Owned()[0]

	if err := ctrl.Sync(ctx, "foo", location); err != nil {
		t.Fatalf("sync unchanged failed: %v", err)
	}
	if sub.Owned()[0] != first {
		t.Fatalf("unchanged digest must not restart the subserver")
	}

	writeSource(t, location, helloSource("v2"))
	if err := ctrl.Sync(ctx, "foo", location); err != nil {
		t.Fatalf("sync changed failed: %v", err)
	}
	if sub.Owned()[0] == first {
		t.Fatalf("changed digest should reload")
	}
	if _, body := serve(t, table, "GET", "/plugins/foo/hello"); body != "v2" {
		t.Fatalf("expected v2, got %q", body)
	}

	if err := ctrl.Sync(ctx, "foo", filepath.Join(dir, "sub", "foo.lua")); err != nil {
		t.Fatalf("mismatched location should be ignored: %v", err)
	}

	if err := os.Remove(location); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := ctrl.Detach(ctx, "foo", location); err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if sub.State() != StateUnloaded || table.Len() != 0 {
		t.Fatalf("detach should unload the subserver")
	}
}
