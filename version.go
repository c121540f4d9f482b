package main

import (
	"fmt"
	"strings"

	"github.com/any-hub/plughub/internal/plugin"
	"github.com/any-hub/plughub/internal/version"
)

// printVersion 输出版本号，并附带当前二进制内置的插件运行时。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "runtimes: %s\n", strings.Join(plugin.Keys(), ", "))
}
