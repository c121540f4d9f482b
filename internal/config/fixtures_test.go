package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fixturePath 返回 testdata 下的配置样例，valid.toml 同时被根包 CLI 测试复用。
func fixturePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("配置样例不存在: %v", err)
	}
	return path
}

// writeTempConfig 把 content 写入临时目录下的 config.toml，相对路径将以该目录为基准解析。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// subserverTable 渲染 [[Subserver]] 数组表，name 与 location 成对出现。
func subserverTable(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, "\n[[Subserver]]\nName = %q\nLocation = %q\n", pairs[i], pairs[i+1])
	}
	return b.String()
}
