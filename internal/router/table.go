package router

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v3"
)

// MethodAll 表示匹配任意方法的路由列表。
const MethodAll = "ALL"

// Route 是路由表中的一条记录，指针身份在进程生命周期内稳定。
type Route struct {
	ID      uint64
	Method  string
	Pattern string
	Handler fiber.Handler

	segments []string
	// rank 是跨方法列表的全局优先级，越小越先匹配；受 Table.mu 保护。
	rank int64
}

// Table 按方法维护有序路由列表，所有变更与读取都通过 mu 保护。
// 各列表内部按 rank 升序：追加取递增的正数，插入队首取递减的负数，
// 因此 ALL 列表与具体方法列表可以按同一优先级归并查找。
type Table struct {
	mu     sync.RWMutex
	routes map[string][]*Route
	nextID atomic.Uint64
	back   int64
	front  int64
}

// NewTable 创建空路由表。
func NewTable() *Table {
	return &Table{routes: make(map[string][]*Route)}
}

// Register 追加一条路由到对应方法列表末尾，并返回其身份句柄。
func (t *Table) Register(method, pattern string, handler fiber.Handler) *Route {
	route := &Route{
		ID:       t.nextID.Add(1),
		Method:   normalizeMethod(method),
		Pattern:  pattern,
		Handler:  handler,
		segments: splitPath(pattern),
	}

	t.mu.Lock()
	t.back++
	route.rank = t.back
	t.routes[route.Method] = append(t.routes[route.Method], route)
	t.mu.Unlock()
	return route
}

// Unregister 按身份删除路由；路由已不存在时返回 false。
func (t *Table) Unregister(route *Route) bool {
	if route == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.routes[route.Method]
	idx := indexOf(list, route)
	if idx < 0 {
		return false
	}
	t.routes[route.Method] = append(list[:idx:idx], list[idx+1:]...)
	if len(t.routes[route.Method]) == 0 {
		delete(t.routes, route.Method)
	}
	return true
}

// InsertFront 将路由移动（或插入）到 method 列表的队首，同时使其优先于此前所有路由，
// 包括其他方法列表与 ALL 列表中的路由。
// 返回 false 表示路由原本不在表中，此时仍会被插入。
func (t *Table) InsertFront(method string, route *Route) bool {
	if route == nil {
		return false
	}
	method = normalizeMethod(method)

	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.routes[method]
	existed := false
	if idx := indexOf(list, route); idx >= 0 {
		list = append(list[:idx:idx], list[idx+1:]...)
		existed = true
	}
	t.front--
	route.rank = t.front
	next := make([]*Route, 0, len(list)+1)
	next = append(next, route)
	next = append(next, list...)
	t.routes[method] = next
	return existed
}

// Snapshot 返回每个方法当前路由列表的副本。
func (t *Table) Snapshot() map[string][]*Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string][]*Route, len(t.routes))
	for method, list := range t.routes {
		result[method] = append([]*Route(nil), list...)
	}
	return result
}

// Len 返回路由总数。
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for _, list := range t.routes {
		total += len(list)
	}
	return total
}

// Lookup 在方法列表与 ALL 列表中按统一优先级寻找首个匹配路由；HEAD 同时参考 GET 列表。
func (t *Table) Lookup(method, path string) (*Route, map[string]string, bool) {
	method = normalizeMethod(method)
	segments := splitPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	lists := [][]*Route{t.routes[method]}
	if method == fiber.MethodHead {
		lists = append(lists, t.routes[fiber.MethodGet])
	}
	if method != MethodAll {
		lists = append(lists, t.routes[MethodAll])
	}

	// 各列表已按 rank 升序，逐个取出 rank 最小的候选即可得到全局顺序。
	cursor := make([]int, len(lists))
	for {
		best := -1
		for i, list := range lists {
			if cursor[i] >= len(list) {
				continue
			}
			if best < 0 || list[cursor[i]].rank < lists[best][cursor[best]].rank {
				best = i
			}
		}
		if best < 0 {
			return nil, nil, false
		}
		route := lists[best][cursor[best]]
		cursor[best]++
		if params, ok := match(route.segments, segments); ok {
			return route, params, true
		}
	}
}

func indexOf(list []*Route, route *Route) int {
	for i, candidate := range list {
		if candidate == route {
			return i
		}
	}
	return -1
}

func normalizeMethod(method string) string {
	normalized := strings.ToUpper(strings.TrimSpace(method))
	if normalized == "" || normalized == "*" {
		return MethodAll
	}
	return normalized
}
