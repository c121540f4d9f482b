package luart

import (
	"errors"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// maxDepth 防止自引用 table 导致无限递归。
const maxDepth = 64

var errTooDeep = errors.New("value nested too deeply (cyclic table?)")

// toGo 将 Lua 值转换为可被 encoding/json 编码的 Go 值。
// 键全部为 1..n 连续整数的 table 视为数组，空 table 编码为空对象。
func toGo(value lua.LValue) (any, error) {
	return convertValue(value, 0)
}

func convertValue(value lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	switch v := value.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LString:
		return string(v), nil
	case lua.LNumber:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("unsupported number %v", f)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case *lua.LTable:
		return convertTable(v, depth)
	default:
		return nil, fmt.Errorf("unsupported lua type %s", value.Type().String())
	}
}

func convertTable(tbl *lua.LTable, depth int) (any, error) {
	if n := tbl.Len(); n > 0 && isSequence(tbl, n) {
		items := make([]any, 0, n)
		for idx := 1; idx <= n; idx++ {
			item, err := convertValue(tbl.RawGetInt(idx), depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}

	out := make(map[string]any)
	var convErr error
	tbl.ForEach(func(key, value lua.LValue) {
		if convErr != nil {
			return
		}
		item, err := convertValue(value, depth+1)
		if err != nil {
			convErr = err
			return
		}
		out[keyString(key)] = item
	})
	if convErr != nil {
		return nil, convErr
	}
	return out, nil
}

func isSequence(tbl *lua.LTable, n int) bool {
	count := 0
	sequence := true
	tbl.ForEach(func(key, _ lua.LValue) {
		count++
		num, ok := key.(lua.LNumber)
		if !ok || float64(num) != math.Trunc(float64(num)) || int(num) < 1 || int(num) > n {
			sequence = false
		}
	})
	return sequence && count == n
}

func keyString(key lua.LValue) string {
	if num, ok := key.(lua.LNumber); ok && float64(num) == math.Trunc(float64(num)) {
		return fmt.Sprintf("%d", int64(num))
	}
	return key.String()
}
