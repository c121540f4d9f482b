package router

import (
	"net/url"
	"strings"
)

// splitPath 将路径切分为段；末尾斜杠可有可无，"/" 对应空切片。
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// match 支持三种段：字面量、":name" 单段参数、末尾 "*" 匹配剩余路径（可为空）。
func match(pattern, path []string) (map[string]string, bool) {
	var params map[string]string
	for i, seg := range pattern {
		if seg == "*" && i == len(pattern)-1 {
			if params == nil {
				params = make(map[string]string, 1)
			}
			if i < len(path) {
				params["*"] = strings.Join(path[i:], "/")
			} else {
				params["*"] = ""
			}
			return params, true
		}
		if i >= len(path) {
			return nil, false
		}
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			if params == nil {
				params = make(map[string]string, len(pattern))
			}
			params[seg[1:]] = unescape(path[i])
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	if len(pattern) != len(path) {
		return nil, false
	}
	return params, true
}

func unescape(segment string) string {
	if decoded, err := url.PathUnescape(segment); err == nil {
		return decoded
	}
	return segment
}
