package subserver

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 可通过 errors.Is 匹配所有 NotFoundError。
	ErrNotFound = errors.New("subserver not found")
	// ErrInvalidName 表示名称无法映射到合法的文件名/URL 段。
	ErrInvalidName = errors.New("invalid subserver name")
	// ErrDeleted 表示 Subserver 已被删除，不能再执行任何操作。
	ErrDeleted = errors.New("subserver deleted")
)

// NotFoundError 表示名称未注册或源码文件不存在。
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("subserver %q not found", e.Name)
}

// Is 让 errors.Is(err, ErrNotFound) 成立。
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// LoadError 包装加载或执行插件时的失败，Subserver 此时已回到 unloaded。
type LoadError struct {
	Name     string
	Location string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load subserver %s (%s): %v", e.Name, e.Location, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IOError 包装源码写入/删除时的存储错误。
type IOError struct {
	Name string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s source of subserver %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
