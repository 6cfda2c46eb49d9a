package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// LogLevel 日志级别
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(INFO))
}

// ParseLevel 将字符串解析为日志级别，无法识别时返回 INFO
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Init 初始化日志系统
func Init(level string) {
	SetLevel(ParseLevel(level))

	klog.InitFlags(nil)
	klog.SetOutput(os.Stdout)

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	Info("日志系统初始化完成，级别: %s", level)
}

// SetLevel 运行时调整日志级别
func SetLevel(l LogLevel) {
	currentLevel.Store(int32(l))
}

func enabled(l LogLevel) bool {
	return LogLevel(currentLevel.Load()) <= l
}

func output(l LogLevel, prefix, format string, args ...interface{}) {
	if !enabled(l) {
		return
	}
	message := fmt.Sprintf(prefix+format, args...)
	// 调用深度: output -> Info/Named.Info -> 调用方
	_ = log.Output(3, message)
	switch l {
	case DEBUG:
		klog.V(4).Info(message)
	case WARN:
		klog.Warning(message)
	case ERROR:
		klog.Error(message)
	}
}

// Debug 调试日志
func Debug(format string, args ...interface{}) { output(DEBUG, "[DEBUG] ", format, args...) }

// Info 信息日志
func Info(format string, args ...interface{}) { output(INFO, "[INFO] ", format, args...) }

// Warn 警告日志
func Warn(format string, args ...interface{}) { output(WARN, "[WARN] ", format, args...) }

// Error 错误日志
func Error(format string, args ...interface{}) { output(ERROR, "[ERROR] ", format, args...) }

// Fatal 致命错误日志
func Fatal(format string, args ...interface{}) {
	message := fmt.Sprintf("[FATAL] "+format, args...)
	_ = log.Output(2, message)
	klog.Fatal(message)
}

// Logger 带组件前缀的日志器
type Logger struct {
	component string
}

// Named 返回带组件名前缀的日志器，例如 [INFO] [dispatcher] ...
func Named(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) prefix(level string) string {
	return "[" + level + "] [" + l.component + "] "
}

func (l *Logger) Debug(format string, args ...interface{}) {
	output(DEBUG, l.prefix("DEBUG"), format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	output(INFO, l.prefix("INFO"), format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	output(WARN, l.prefix("WARN"), format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	output(ERROR, l.prefix("ERROR"), format, args...)
}
