package main

import (
	// 插件运行时在 init 中注册到 plugin 注册表。
	_ "github.com/any-hub/plughub/internal/plugin/hclrt"
	_ "github.com/any-hub/plughub/internal/plugin/luart"
)
