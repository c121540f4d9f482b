package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/any-hub/plughub/internal/storage"
)

// ErrUnsupportedRuntime 表示源码扩展名没有对应的运行时。
var ErrUnsupportedRuntime = errors.New("unsupported plugin runtime")

// CompileError 包装运行时的编译失败，保留源码位置便于定位。
type CompileError struct {
	Location string
	Runtime  string
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s (%s): %v", e.Location, e.Runtime, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Module 是一次成功加载的缓存条目。
type Module struct {
	Location string
	Runtime  string
	Digest   uint64
	Program  Program
	LoadedAt time.Time
}

// Loader 按源码位置缓存编译后的 Program，Evict 之后的 Load 一定重新读取存储。
type Loader struct {
	store storage.Store
	now   func() time.Time

	mu      sync.Mutex
	modules map[string]*Module
}

// NewLoader 构造基于 store 的模块缓存。
func NewLoader(store storage.Store) *Loader {
	return &Loader{
		store:   store,
		now:     time.Now,
		modules: make(map[string]*Module),
	}
}

// Digest 计算源码摘要，watcher 借此判断文件内容是否真的发生变化。
func Digest(source []byte) uint64 {
	return xxhash.Sum64(source)
}

// Load 返回 location 对应的模块，缓存未命中时读取源码并编译。
func (l *Loader) Load(ctx context.Context, location string) (*Module, error) {
	if mod, ok := l.Cached(location); ok {
		return mod, nil
	}

	meta, ok := ResolveLocation(location)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRuntime, location)
	}

	source, err := l.store.Read(ctx, location)
	if err != nil {
		return nil, err
	}

	program, err := compileSafely(meta, location, source)
	if err != nil {
		return nil, &CompileError{Location: location, Runtime: meta.Key, Err: err}
	}

	mod := &Module{
		Location: location,
		Runtime:  meta.Key,
		Digest:   Digest(source),
		Program:  program,
		LoadedAt: l.now(),
	}

	l.mu.Lock()
	l.modules[location] = mod
	l.mu.Unlock()
	return mod, nil
}

// Evict 丢弃 location 的缓存条目，返回条目此前是否存在。
func (l *Loader) Evict(location string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.modules[location]; !ok {
		return false
	}
	delete(l.modules, location)
	return true
}

// Cached 返回已缓存的模块。
func (l *Loader) Cached(location string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mod, ok := l.modules[location]
	return mod, ok
}

func compileSafely(meta RuntimeMetadata, location string, source []byte) (program Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			program = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return meta.Compile(location, source)
}
