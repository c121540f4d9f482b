package subserver

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/config"
	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/storage"
)

// Controller 是控制接口的逻辑层，同一名称上的变更操作按名称串行执行。
type Controller struct {
	registry *Registry
	router   HostRouter
	store    storage.Store
	logger   logrus.FieldLogger
	locks    *nameLocks
}

// NewController 绑定 Registry 与宿主路由表。
func NewController(registry *Registry, router HostRouter) *Controller {
	return &Controller{
		registry: registry,
		router:   router,
		store:    registry.deps.store,
		logger:   registry.logger,
		locks:    newNameLocks(),
	}
}

// Registry 返回底层 Registry，供诊断端点读取。
func (c *Controller) Registry() *Registry {
	return c.registry
}

// ListNames 返回所有已知 Subserver 名称（含未加载的）。
func (c *Controller) ListNames() []string {
	return c.registry.Names()
}

// GetSource 返回源码；名称未知或文件缺失均视为 NotFound。
func (c *Controller) GetSource(ctx context.Context, name string) ([]byte, error) {
	sub, ok := c.registry.Get(name)
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	data, err := sub.ReadSource(ctx)
	if errors.Is(err, ErrDeleted) {
		return nil, &NotFoundError{Name: name}
	}
	return data, err
}

// SetSource 写入源码并（重新）启动 Subserver，created 表示本次新建了条目。
// 启动失败时源码仍保留在磁盘上，错误为 *LoadError。
func (c *Controller) SetSource(ctx context.Context, name string, content []byte) (created bool, err error) {
	unlock := c.locks.lock(name)
	defer unlock()

	sub, created, err := c.registry.ResolveOrCreate(name, true)
	if err != nil {
		return false, err
	}
	if err := sub.WriteSource(ctx, content); err != nil {
		if created {
			c.registry.Remove(name)
		}
		return false, err
	}
	// Start 会先卸载已加载的旧版本。
	if err := sub.Start(ctx, c.router); err != nil {
		return created, err
	}
	return created, nil
}

// Unload 卸载 Subserver，保留条目与源码文件。
func (c *Controller) Unload(ctx context.Context, name string) error {
	unlock := c.locks.lock(name)
	defer unlock()

	sub, ok := c.registry.Get(name)
	if !ok {
		return &NotFoundError{Name: name}
	}
	return sub.Unload(ctx, c.router)
}

// Delete 删除源码文件、卸载并移除条目。
func (c *Controller) Delete(ctx context.Context, name string) error {
	unlock := c.locks.lock(name)
	defer unlock()

	sub, ok := c.registry.Get(name)
	if !ok {
		return &NotFoundError{Name: name}
	}
	if err := sub.Delete(ctx, c.router); err != nil {
		return err
	}
	c.registry.Remove(name)
	return nil
}

// Sync 供目录监听使用：新文件被接管并启动，内容变化的文件被重新加载，
// 摘要与已加载版本一致时跳过。
func (c *Controller) Sync(ctx context.Context, name, location string) error {
	if !config.ValidSubserverName(name) {
		return ErrInvalidName
	}
	unlock := c.locks.lock(name)
	defer unlock()

	sub, ok := c.registry.Get(name)
	if !ok {
		sub = c.registry.adopt(name, location)
	}
	if sub.Location() != location {
		c.logger.WithFields(logrus.Fields{
			"subserver": name,
			"location":  sub.Location(),
			"ignored":   location,
		}).Debug("subserver_sync_location_mismatch")
		return nil
	}

	data, err := c.store.Read(ctx, location)
	if err != nil {
		return err
	}
	if digest, loaded := sub.LoadedDigest(); loaded && digest == plugin.Digest(data) {
		return nil
	}
	return sub.Start(ctx, c.router)
}

// Detach 在源码文件被外部删除后卸载对应 Subserver，条目保留，之后可再次 PUT。
func (c *Controller) Detach(ctx context.Context, name, location string) error {
	unlock := c.locks.lock(name)
	defer unlock()

	sub, ok := c.registry.Get(name)
	if !ok || sub.Location() != location {
		return nil
	}
	return sub.Unload(ctx, c.router)
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// nameLocks 为每个名称提供引用计数的互斥锁，空闲后自动回收。
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

func (n *nameLocks) lock(name string) func() {
	n.mu.Lock()
	entry := n.locks[name]
	if entry == nil {
		entry = &nameLock{}
		n.locks[name] = entry
	}
	entry.refs++
	n.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		n.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(n.locks, name)
		}
		n.mu.Unlock()
	}
}
