package subserver

import (
	"sort"
	"sync"

	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/router"
)

// HostRouter 是 Subserver 对宿主路由表所需的全部能力，*router.Table 天然满足。
type HostRouter interface {
	plugin.Registrar
	Unregister(route *router.Route) bool
	InsertFront(method string, route *router.Route) bool
	Snapshot() map[string][]*router.Route
}

// Tracker 通过前后快照对比，找出一次登记调用新增的路由。
// 同一时刻只允许一个追踪调用，避免并发 start 互相认领对方的路由。
type Tracker struct {
	mu sync.Mutex
}

// NewTracker 创建追踪器；同一路由表上的所有 Subserver 必须共享同一个 Tracker。
func NewTracker() *Tracker {
	return &Tracker{}
}

// TrackNewRoutes 执行 fn 并返回其间新增的路由，顺序与登记顺序一致。
// fn 返回错误时依然返回已新增的路由，便于调用方清理。
func (t *Tracker) TrackNewRoutes(r HostRouter, fn func() error) ([]*router.Route, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := r.Snapshot()
	err := fn()
	after := r.Snapshot()

	return diffSnapshots(before, after), err
}

func diffSnapshots(before, after map[string][]*router.Route) []*router.Route {
	var added []*router.Route
	for method, list := range after {
		seen := make(map[*router.Route]struct{}, len(before[method]))
		for _, route := range before[method] {
			seen[route] = struct{}{}
		}
		for _, route := range list {
			if _, ok := seen[route]; !ok {
				added = append(added, route)
			}
		}
	}
	// ID 随登记单调递增，按 ID 排序即还原跨方法的登记顺序。
	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	return added
}
