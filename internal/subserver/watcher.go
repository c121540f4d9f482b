package subserver

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/plughub/internal/config"
	"github.com/any-hub/plughub/internal/plugin"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher 监听插件目录，文件变化后经由 Controller 重新加载或卸载对应 Subserver。
// 同一路径的连续事件会被合并，内容未变的写入依靠摘要去重。
type Watcher struct {
	ctrl     *Controller
	logger   logrus.FieldLogger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
}

// NewWatcher 基于 Controller 创建目录监听器，需调用 Start 生效。
func NewWatcher(ctrl *Controller, logger logrus.FieldLogger) *Watcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{
		ctrl:     ctrl,
		logger:   logger.WithField("component", "watcher"),
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Start 注册目录监听并在后台处理事件，ctx 取消后停止。
// PluginDir 不存在时会被创建；其余不存在的目录仅记录告警。
func (w *Watcher) Start(ctx context.Context) error {
	registry := w.ctrl.Registry()
	if err := os.MkdirAll(registry.PluginDir(), 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range registry.WatchDirs() {
		if err := watcher.Add(dir); err != nil {
			w.logger.WithError(err).WithField("dir", dir).Warn("watch_dir_failed")
			continue
		}
		w.logger.WithField("dir", dir).Info("watch_dir_added")
	}

	go w.loop(ctx, watcher)
	return nil
}

// Done 在后台循环退出后关闭。
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(w.done)
	defer w.stopPending()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("watch_error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	location := filepath.Clean(event.Name)
	name, ok := w.resolveName(location)
	if !ok {
		return
	}
	w.schedule(location, func() {
		w.reconcile(ctx, name, location)
	})
}

// resolveName 优先按位置匹配已有 Subserver，否则仅接受 PluginDir 下可识别扩展名的文件。
func (w *Watcher) resolveName(location string) (string, bool) {
	registry := w.ctrl.Registry()
	if sub, ok := registry.FindByLocation(location); ok {
		return sub.Name(), true
	}
	if filepath.Dir(location) != filepath.Clean(registry.PluginDir()) {
		return "", false
	}
	name, _, ok := plugin.SplitName(filepath.Base(location))
	if !ok || !config.ValidSubserverName(name) {
		return "", false
	}
	return name, true
}

func (w *Watcher) reconcile(ctx context.Context, name, location string) {
	if ctx.Err() != nil {
		return
	}
	logger := w.logger.WithFields(logrus.Fields{"subserver": name, "location": location})

	if _, err := os.Stat(location); errors.Is(err, fs.ErrNotExist) {
		if err := w.ctrl.Detach(ctx, name, location); err != nil {
			logger.WithError(err).Warn("watch_detach_failed")
			return
		}
		logger.Info("watch_source_removed")
		return
	}

	if err := w.ctrl.Sync(ctx, name, location); err != nil {
		logger.WithError(err).Warn("watch_sync_failed")
	}
}

func (w *Watcher) schedule(location string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[location]; ok {
		timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.pending[location] == timer {
			delete(w.pending, location)
		}
		w.mu.Unlock()
		fn()
	})
	w.pending[location] = timer
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for location, timer := range w.pending {
		timer.Stop()
		delete(w.pending, location)
	}
}
