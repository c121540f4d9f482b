package subserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/logging"
	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/router"
	"github.com/any-hub/plughub/internal/storage"
)

// State 是 Subserver 的生命周期状态。
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoaded   State = "loaded"
	// StateDeleted 为终态。
	StateDeleted State = "deleted"
)

// Subserver 是一个可热加载的插件单元，prefix = BaseURL + name + "/"。
type Subserver struct {
	name     string
	location string
	prefix   string

	store   storage.Store
	loader  *plugin.Loader
	tracker *Tracker
	client  *http.Client
	logger  logrus.FieldLogger

	mu        sync.Mutex
	state     State
	owned     []*router.Route
	instance  plugin.Instance
	module    *plugin.Module
	loadedAt  time.Time
	lastError string
}

// Info 是 Subserver 的只读快照，供诊断端点输出。
type Info struct {
	Name      string     `json:"name"`
	Location  string     `json:"location"`
	Prefix    string     `json:"prefix"`
	State     State      `json:"state"`
	Runtime   string     `json:"runtime,omitempty"`
	Routes    int        `json:"routes"`
	Digest    string     `json:"digest,omitempty"`
	LoadedAt  *time.Time `json:"loaded_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Name 返回 Subserver 名称。
func (s *Subserver) Name() string { return s.name }

// Location 返回源码文件的绝对路径。
func (s *Subserver) Location() string { return s.location }

// Prefix 返回路由前缀，形如 BaseURL + name + "/"。
func (s *Subserver) Prefix() string { return s.prefix }

// State 返回当前生命周期状态。
func (s *Subserver) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Owned 返回当前持有的路由句柄副本。
func (s *Subserver) Owned() []*router.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*router.Route(nil), s.owned...)
}

// LoadedDigest 返回当前已加载源码的摘要；未加载时 ok 为 false。
func (s *Subserver) LoadedDigest() (digest uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoaded || s.module == nil {
		return 0, false
	}
	return s.module.Digest, true
}

// Info 返回诊断快照。
func (s *Subserver) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Name:      s.name,
		Location:  s.location,
		Prefix:    s.prefix,
		State:     s.state,
		Routes:    len(s.owned),
		LastError: s.lastError,
	}
	if s.module != nil {
		info.Runtime = s.module.Runtime
		info.Digest = strconv.FormatUint(s.module.Digest, 16)
	}
	if !s.loadedAt.IsZero() && s.state == StateLoaded {
		loadedAt := s.loadedAt
		info.LoadedAt = &loadedAt
	}
	return info
}

// Start 重新读取并执行插件源码，新登记的路由被移动到各自方法列表的队首。
// 已加载时会先卸载；失败时已登记的路由全部撤销，返回 *LoadError。
func (s *Subserver) Start(ctx context.Context, r HostRouter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDeleted {
		return ErrDeleted
	}
	if s.state == StateLoaded {
		s.unloadLocked(r)
	}

	s.loader.Evict(s.location)
	module, err := s.loader.Load(ctx, s.location)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = &NotFoundError{Name: s.name}
		}
		return s.failLocked(err)
	}

	var instance plugin.Instance
	owned, err := s.tracker.TrackNewRoutes(r, func() (runErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = fmt.Errorf("panic while registering routes: %v", rec)
			}
		}()
		instance, runErr = module.Program.Register(ctx, plugin.Env{
			Name:   s.name,
			Prefix: s.prefix,
			App:    r,
			Logger: s.logger,
			Client: s.client,
		})
		return runErr
	})
	if err != nil {
		for _, route := range owned {
			r.Unregister(route)
		}
		if instance != nil {
			_ = instance.Close()
		}
		return s.failLocked(err)
	}

	// 逆序插入队首，插入后的优先级与登记顺序一致（跨方法亦然）。
	for i := len(owned) - 1; i >= 0; i-- {
		r.InsertFront(owned[i].Method, owned[i])
	}

	s.state = StateLoaded
	s.owned = owned
	s.instance = instance
	s.module = module
	s.loadedAt = time.Now()
	s.lastError = ""

	s.logger.WithFields(logrus.Fields{
		"action":  "subserver_start",
		"runtime": module.Runtime,
		"routes":  len(owned),
	}).Info("subserver_loaded")
	return nil
}

func (s *Subserver) failLocked(err error) error {
	s.state = StateUnloaded
	s.owned = nil
	s.instance = nil
	s.module = nil
	s.lastError = err.Error()

	s.logger.WithError(err).WithField("action", "subserver_start").Error("subserver_load_failed")
	return &LoadError{Name: s.name, Location: s.location, Err: err}
}

// Unload 撤销所有持有的路由并关闭插件实例；未加载时只清理模块缓存。
func (s *Subserver) Unload(_ context.Context, r HostRouter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDeleted {
		return ErrDeleted
	}
	wasLoaded := s.state == StateLoaded
	s.unloadLocked(r)
	if wasLoaded {
		s.logger.WithField("action", "subserver_unload").Info("subserver_unloaded")
	}
	return nil
}

func (s *Subserver) unloadLocked(r HostRouter) {
	for _, route := range s.owned {
		if !r.Unregister(route) {
			s.logger.WithFields(logrus.Fields{
				"route_id": route.ID,
				"method":   route.Method,
				"pattern":  route.Pattern,
			}).Debug("route_already_absent")
		}
	}
	if s.instance != nil {
		if err := s.instance.Close(); err != nil {
			s.logger.WithError(err).Warn("subserver_instance_close_failed")
		}
	}
	s.loader.Evict(s.location)

	s.state = StateUnloaded
	s.owned = nil
	s.instance = nil
	s.module = nil
}

// ReadSource 返回源码原文；文件不存在时返回 *NotFoundError。
func (s *Subserver) ReadSource(ctx context.Context) ([]byte, error) {
	if s.State() == StateDeleted {
		return nil, ErrDeleted
	}
	data, err := s.store.Read(ctx, s.location)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Name: s.name}
		}
		return nil, &IOError{Name: s.name, Op: "read", Err: err}
	}
	return data, nil
}

// WriteSource 原子地覆盖源码文件，不会触发重新加载。
func (s *Subserver) WriteSource(ctx context.Context, content []byte) error {
	if s.State() == StateDeleted {
		return ErrDeleted
	}
	entry, err := s.store.Write(ctx, s.location, bytes.NewReader(content))
	if err != nil {
		return &IOError{Name: s.name, Op: "write", Err: err}
	}
	s.logger.WithFields(logrus.Fields{
		"action":     "subserver_write",
		"size_bytes": entry.SizeBytes,
	}).Info("subserver_source_written")
	return nil
}

// Delete 删除源码文件并卸载，之后 Subserver 进入终态。
func (s *Subserver) Delete(ctx context.Context, r HostRouter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDeleted {
		return ErrDeleted
	}
	if err := s.store.Remove(ctx, s.location); err != nil {
		return &IOError{Name: s.name, Op: "remove", Err: err}
	}
	s.unloadLocked(r)
	s.state = StateDeleted
	s.logger.WithField("action", "subserver_delete").Info("subserver_deleted")
	return nil
}

func newSubserver(name, location, baseURL string, deps dependencies) *Subserver {
	prefix := baseURL + name + "/"
	return &Subserver{
		name:     name,
		location: location,
		prefix:   prefix,
		store:    deps.store,
		loader:   deps.loader,
		tracker:  deps.tracker,
		client:   deps.client,
		logger:   deps.logger.WithFields(logging.SubserverFields(name, prefix, location)),
		state:    StateUnloaded,
	}
}

type dependencies struct {
	store   storage.Store
	loader  *plugin.Loader
	tracker *Tracker
	client  *http.Client
	logger  logrus.FieldLogger
}
