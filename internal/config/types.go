package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述宿主进程的运行时行为，所有 Subserver 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	BaseURL         string   `mapstructure:"BaseURL"`
	PluginDir       string   `mapstructure:"PluginDir"`
	DefaultRuntime  string   `mapstructure:"DefaultRuntime"`
	WatchPluginDir  bool     `mapstructure:"WatchPluginDir"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// SubserverConfig 显式声明一个 Subserver 的名称与源码位置，优先级高于目录扫描。
type SubserverConfig struct {
	Name     string `mapstructure:"Name"`
	Location string `mapstructure:"Location"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global     GlobalConfig      `mapstructure:",squash"`
	Subservers []SubserverConfig `mapstructure:"Subserver"`
}

// ExplicitSubservers 返回 name → location 映射，供 Registry 构建时使用。
func (c *Config) ExplicitSubservers() map[string]string {
	if c == nil || len(c.Subservers) == 0 {
		return nil
	}
	result := make(map[string]string, len(c.Subservers))
	for _, sub := range c.Subservers {
		result[sub.Name] = sub.Location
	}
	return result
}

// SubserverNames 返回显式配置的 Subserver 名称，供启动日志输出。
func SubserverNames(subs []SubserverConfig) []string {
	if len(subs) == 0 {
		return nil
	}
	result := make([]string, len(subs))
	for i, sub := range subs {
		result[i] = sub.Name
	}
	return result
}
