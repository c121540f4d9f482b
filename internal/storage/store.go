// Package storage 负责插件源码文件的读写，写入采用临时文件 + rename 保证原子性。
package storage

import (
	"context"
	"errors"
	"io"
)

// Store 抽象插件源码的持久化位置，location 为文件系统绝对路径。
type Store interface {
	// Read 返回 location 处的完整内容，不存在时返回 ErrNotFound。
	Read(ctx context.Context, location string) ([]byte, error)

	// Write 将 body 写入 location，父目录不存在时自动创建。
	// 实现需通过临时文件 + rename 保证写入原子性，读方不会看到半截源码。
	Write(ctx context.Context, location string, body io.Reader) (*Entry, error)

	// Remove 删除 location，文件本就不存在时视为成功。
	Remove(ctx context.Context, location string) error

	// List 返回目录下的普通文件名（不含子目录），目录不存在时返回空列表。
	List(ctx context.Context, dir string) ([]string, error)
}

// Entry 描述一次写入后的文件信息。
type Entry struct {
	Location  string `json:"location"`
	SizeBytes int64  `json:"size_bytes"`
}

// ErrNotFound 表示源码文件不存在。
var ErrNotFound = errors.New("source not found")
