package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/plughub/internal/config"
)

// InitLogger 按全局配置构建 JSON 日志：LogFilePath 为空写 stdout，否则经 lumberjack 滚动写文件。
// 日志目录无法创建时退回 stdout 并记录 logger_fallback，不让日志问题阻止宿主启动。
// 构建结果同步到 logrus 标准 logger，未显式注入 logger 的组件输出保持一致。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	var (
		out         io.Writer = os.Stdout
		fallbackErr error
	)
	if cfg.LogFilePath != "" {
		if rotator, err := newRotator(cfg); err != nil {
			fallbackErr = err
			fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", err)
		} else {
			out = rotator
		}
	}

	logger := newJSONLogger(level, out)
	syncStandardLogger(logger)

	if fallbackErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(fallbackErr.Error())
	}
	return logger, nil
}

// NewDiscardLogger 返回丢弃全部输出的 debug 级 logger，测试里用它让所有日志分支都被执行。
func NewDiscardLogger() *logrus.Logger {
	return newJSONLogger(logrus.DebugLevel, io.Discard)
}

func newJSONLogger(level logrus.Level, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	return logger
}

func newRotator(cfg config.GlobalConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

func syncStandardLogger(logger *logrus.Logger) {
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())
}
