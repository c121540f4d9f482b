package plugin

import "testing"

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func stubCompile(string, []byte) (Program, error) { return nil, nil }

func TestRegisterResolveAndList(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(RuntimeMetadata{Key: "beta", Extensions: []string{"b"}, Compile: stubCompile}); err != nil {
		t.Fatalf("register beta failed: %v", err)
	}
	if err := Register(RuntimeMetadata{Key: "Alpha", Extensions: []string{".a", ".aa"}, Compile: stubCompile}); err != nil {
		t.Fatalf("register alpha failed: %v", err)
	}

	if _, ok := Resolve("ALPHA"); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	if meta, ok := ResolveLocation("/srv/plugins/foo.B"); !ok || meta.Key != "beta" {
		t.Fatalf("extension without dot should be normalized, got %+v %v", meta, ok)
	}
	if _, ok := ResolveLocation("/srv/plugins/foo.txt"); ok {
		t.Fatalf("unknown extension should not resolve")
	}

	name, meta, ok := SplitName("hello.aa")
	if !ok || name != "hello" || meta.Key != "alpha" {
		t.Fatalf("unexpected split: %s %+v %v", name, meta, ok)
	}

	keys := Keys()
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "beta" {
		t.Fatalf("unexpected order: %v", keys)
	}
}

func TestRegisterRejectsConflicts(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(RuntimeMetadata{Key: "lua", Extensions: []string{".lua"}, Compile: stubCompile}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(RuntimeMetadata{Key: "lua", Extensions: []string{".luax"}, Compile: stubCompile}); err == nil {
		t.Fatalf("duplicate key should fail")
	}
	if err := Register(RuntimeMetadata{Key: "other", Extensions: []string{".lua"}, Compile: stubCompile}); err == nil {
		t.Fatalf("claimed extension should fail")
	}
	if err := Register(RuntimeMetadata{Key: "nocompile", Extensions: []string{".x"}}); err == nil {
		t.Fatalf("missing compile func should fail")
	}
}
