package subserver

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/config"
	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/storage"
)

// Options 描述构建 Registry 所需的全部依赖，调用方在启动阶段一次性注入。
type Options struct {
	BaseURL   string
	PluginDir string
	// DefaultExtension 用于新建 Subserver 时推导源码文件名，例如 ".lua"。
	DefaultExtension string
	// Explicit 为配置文件中显式声明的 Subserver，与目录扫描结果冲突时以此为准。
	Explicit []config.SubserverConfig

	Store   storage.Store
	Loader  *plugin.Loader
	Tracker *Tracker
	Client  *http.Client
	Logger  logrus.FieldLogger
}

// Registry 维护 name → Subserver 映射，并保留插入顺序用于列表输出。
type Registry struct {
	baseURL   string
	pluginDir string
	ext       string
	explicit  []config.SubserverConfig
	deps      dependencies
	logger    logrus.FieldLogger

	mu         sync.RWMutex
	subservers map[string]*Subserver
	ordered    []*Subserver
}

// NewRegistry 创建空 Registry；Discover/Bootstrap 负责填充。
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	loader := opts.Loader
	if loader == nil {
		loader = plugin.NewLoader(opts.Store)
	}
	return &Registry{
		baseURL:   opts.BaseURL,
		pluginDir: opts.PluginDir,
		ext:       opts.DefaultExtension,
		explicit:  opts.Explicit,
		deps: dependencies{
			store:   opts.Store,
			loader:  loader,
			tracker: tracker,
			client:  opts.Client,
			logger:  logger,
		},
		logger:     logger,
		subservers: make(map[string]*Subserver),
	}
}

// PluginDir 返回扫描目录，watcher 使用同一目录。
func (r *Registry) PluginDir() string {
	return r.pluginDir
}

// Discover 扫描 PluginDir 并合并显式配置，返回（尚未启动的）Subserver 列表。
// 同名时显式配置优先；已存在于 Registry 的条目保持不变。
func (r *Registry) Discover(ctx context.Context) ([]*Subserver, error) {
	locations := make(map[string]string)
	var order []string

	files, err := r.deps.store.List(ctx, r.pluginDir)
	if err != nil {
		return nil, fmt.Errorf("scan plugin dir %s: %w", r.pluginDir, err)
	}
	for _, file := range files {
		name, _, ok := plugin.SplitName(file)
		if !ok {
			continue
		}
		if !config.ValidSubserverName(name) {
			r.logger.WithField("file", file).Warn("subserver_name_invalid")
			continue
		}
		if previous, exists := locations[name]; exists {
			r.logger.WithFields(logrus.Fields{
				"subserver": name,
				"kept":      previous,
				"ignored":   file,
			}).Warn("subserver_name_conflict")
			continue
		}
		locations[name] = filepath.Join(r.pluginDir, file)
		order = append(order, name)
	}

	for _, entry := range r.explicit {
		if _, exists := locations[entry.Name]; !exists {
			order = append(order, entry.Name)
		}
		locations[entry.Name] = entry.Location
	}

	result := make([]*Subserver, 0, len(order))
	for _, name := range order {
		result = append(result, r.adopt(name, locations[name]))
	}
	return result, nil
}

// Bootstrap 对应宿主的 starting 通知：发现并启动所有 Subserver，单个失败只记录日志。
func (r *Registry) Bootstrap(ctx context.Context, router HostRouter) error {
	subs, err := r.Discover(ctx)
	if err != nil {
		return err
	}

	loaded := 0
	for _, sub := range subs {
		if err := safeCall(func() error { return sub.Start(ctx, router) }); err != nil {
			r.logger.WithError(err).WithField("subserver", sub.Name()).Warn("subserver_bootstrap_skipped")
			continue
		}
		loaded++
	}

	r.logger.WithFields(logrus.Fields{
		"action":     "bootstrap",
		"subservers": len(subs),
		"loaded":     loaded,
	}).Info("subservers_bootstrapped")
	return nil
}

// UnloadAll 对应宿主的 stopping 通知：逐个卸载，任何失败或 panic 都不会中断其余卸载。
func (r *Registry) UnloadAll(ctx context.Context, router HostRouter) {
	for _, sub := range r.List() {
		if err := safeCall(func() error { return sub.Unload(ctx, router) }); err != nil {
			r.logger.WithError(err).WithField("subserver", sub.Name()).Error("subserver_unload_failed")
		}
	}
}

// Get 按名称查找 Subserver。
func (r *Registry) Get(name string) (*Subserver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subservers[name]
	return sub, ok
}

// List 按插入顺序返回所有 Subserver。
func (r *Registry) List() []*Subserver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Subserver(nil), r.ordered...)
}

// Names 按插入顺序返回名称列表。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.ordered))
	for i, sub := range r.ordered {
		names[i] = sub.name
	}
	return names
}

// ResolveOrCreate 返回已有 Subserver；不存在且允许创建时，以
// PluginDir/name + 默认扩展名 为位置新建一个 unloaded 条目。
func (r *Registry) ResolveOrCreate(name string, allowCreate bool) (*Subserver, bool, error) {
	if !config.ValidSubserverName(name) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subservers[name]; ok {
		return sub, false, nil
	}
	if !allowCreate {
		return nil, false, &NotFoundError{Name: name}
	}
	sub := r.insertLocked(name, filepath.Join(r.pluginDir, name+r.ext))
	return sub, true, nil
}

// Remove 删除映射条目，仅供 Controller.Delete 使用。
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subservers[name]
	if !ok {
		return false
	}
	delete(r.subservers, name)
	for i, candidate := range r.ordered {
		if candidate == sub {
			r.ordered = append(r.ordered[:i:i], r.ordered[i+1:]...)
			break
		}
	}
	return true
}

// FindByLocation 按源码位置反查 Subserver。
func (r *Registry) FindByLocation(location string) (*Subserver, bool) {
	location = filepath.Clean(location)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.ordered {
		if filepath.Clean(sub.location) == location {
			return sub, true
		}
	}
	return nil, false
}

// WatchDirs 返回需要监听的目录：PluginDir 以及显式配置源码所在目录。
func (r *Registry) WatchDirs() []string {
	seen := map[string]struct{}{}
	var dirs []string
	add := func(dir string) {
		dir = filepath.Clean(dir)
		if _, ok := seen[dir]; ok {
			return
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	add(r.pluginDir)
	for _, entry := range r.explicit {
		add(filepath.Dir(entry.Location))
	}
	return dirs
}

// adopt 返回已有条目，或以 location 新建一个。
func (r *Registry) adopt(name, location string) *Subserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subservers[name]; ok {
		return sub
	}
	return r.insertLocked(name, location)
}

func (r *Registry) insertLocked(name, location string) *Subserver {
	sub := newSubserver(name, location, r.baseURL, r.deps)
	r.subservers[name] = sub
	r.ordered = append(r.ordered, sub)
	return sub
}

// safeCall 把插件执行中的 panic 转换为错误。
func safeCall(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
