package config

import (
	"errors"
	"regexp"
	"strings"
)

var supportedRuntimes = map[string]struct{}{
	"lua": {},
	"hcl": {},
}

const supportedRuntimeList = "lua|hcl"

// ReservedSubserverName 与控制接口路径冲突，不能作为 Subserver 名称。
const ReservedSubserverName = "subservers"

var subserverNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidSubserverName 判断名称能否安全地映射为文件名与 URL 段。
func ValidSubserverName(name string) bool {
	if name == ReservedSubserverName {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return subserverNamePattern.MatchString(name)
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if !strings.HasPrefix(g.BaseURL, "/") || !strings.HasSuffix(g.BaseURL, "/") {
		return newFieldError("Global.BaseURL", "必须以 / 开头并以 / 结尾")
	}
	if strings.ContainsAny(g.BaseURL, ":*? ") {
		return newFieldError("Global.BaseURL", "不允许包含路由通配符或空格")
	}
	if strings.TrimSpace(g.PluginDir) == "" {
		return newFieldError("Global.PluginDir", "不能为空")
	}
	if _, ok := supportedRuntimes[g.DefaultRuntime]; !ok {
		return newFieldError("Global.DefaultRuntime", "仅支持 "+supportedRuntimeList)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "必须大于 0")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Subservers {
		sub := &c.Subservers[i]
		if sub.Name == "" {
			return newFieldError("Subserver[].Name", "不能为空")
		}
		if !ValidSubserverName(sub.Name) {
			return newFieldError(subserverField(sub.Name, "Name"), "只允许字母、数字、. _ -，且不能为 subservers")
		}
		if _, exists := seenNames[sub.Name]; exists {
			return newFieldError(subserverField(sub.Name, "Name"), "重复")
		}
		seenNames[sub.Name] = struct{}{}

		if sub.Location == "" {
			return newFieldError(subserverField(sub.Name, "Location"), "不能为空")
		}
	}

	return nil
}

// RuntimeExtension 返回默认运行时对应的源码扩展名。
func (g GlobalConfig) RuntimeExtension() string {
	return "." + g.DefaultRuntime
}
