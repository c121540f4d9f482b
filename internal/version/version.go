package version

import "fmt"

// Version/Commit 通过 -ldflags "-X" 在构建时注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 "plughub <version> (<commit>)"，CLI 与启动日志共用。
func Full() string {
	return fmt.Sprintf("plughub %s (%s)", Version, Commit)
}
