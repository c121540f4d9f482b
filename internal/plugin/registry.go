package plugin

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu         sync.RWMutex
	runtimes   map[string]RuntimeMetadata
	extensions map[string]string
}

func newRegistry() *registry {
	return &registry{
		runtimes:   make(map[string]RuntimeMetadata),
		extensions: make(map[string]string),
	}
}

// Register 将运行时元数据加入全局注册表，重复键或扩展名会返回错误。
func Register(meta RuntimeMetadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合运行时 init() 中调用。
func MustRegister(meta RuntimeMetadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的运行时元数据。
func Resolve(key string) (RuntimeMetadata, bool) {
	return globalRegistry.resolve(key)
}

// ResolveLocation 根据源码位置的扩展名查找运行时。
func ResolveLocation(location string) (RuntimeMetadata, bool) {
	return globalRegistry.resolveExtension(filepath.Ext(location))
}

// List 返回按键排序的运行时元数据列表。
func List() []RuntimeMetadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册运行时的键值，供调试或诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

// SplitName 将文件名拆分为 Subserver 名称与运行时；扩展名未注册时 ok 为 false。
func SplitName(fileName string) (name string, meta RuntimeMetadata, ok bool) {
	ext := filepath.Ext(fileName)
	meta, ok = globalRegistry.resolveExtension(ext)
	if !ok {
		return "", RuntimeMetadata{}, false
	}
	return strings.TrimSuffix(fileName, ext), meta, true
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func normalizeExtension(ext string) string {
	ext = normalizeKey(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func (r *registry) register(meta RuntimeMetadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("runtime key is required")
	}
	if meta.Compile == nil {
		return fmt.Errorf("runtime %s: compile func is required", key)
	}
	if len(meta.Extensions) == 0 {
		return fmt.Errorf("runtime %s: at least one extension is required", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runtimes[key]; exists {
		return fmt.Errorf("runtime %s already registered", key)
	}
	normalized := make([]string, 0, len(meta.Extensions))
	for _, ext := range meta.Extensions {
		ext = normalizeExtension(ext)
		if owner, exists := r.extensions[ext]; exists {
			return fmt.Errorf("extension %s already claimed by runtime %s", ext, owner)
		}
		normalized = append(normalized, ext)
	}
	for _, ext := range normalized {
		r.extensions[ext] = key
	}
	meta.Extensions = normalized
	r.runtimes[key] = meta
	return nil
}

func (r *registry) resolve(key string) (RuntimeMetadata, bool) {
	if key == "" {
		return RuntimeMetadata{}, false
	}
	normalized := normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.runtimes[normalized]
	return meta, ok
}

func (r *registry) resolveExtension(ext string) (RuntimeMetadata, bool) {
	ext = normalizeExtension(ext)
	if ext == "" {
		return RuntimeMetadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.extensions[ext]
	if !ok {
		return RuntimeMetadata{}, false
	}
	meta, ok := r.runtimes[key]
	return meta, ok
}

func (r *registry) list() []RuntimeMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.runtimes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.runtimes))
	for key := range r.runtimes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]RuntimeMetadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.runtimes[key])
	}
	return result
}
