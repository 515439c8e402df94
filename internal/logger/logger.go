package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *logrus.Logger
)

// GetLogLevelFromString 将字符串转换为日志级别
func GetLogLevelFromString(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.WarnLevel
	}
}

/**
 * Initialize the logging system
 * @param {string} path - Log file path, "console" or empty writes to stderr
 * @param {string} level - Log level (debug/info/warn/error)
 * @param {bool} console - Mirror file output to stdout (server mode)
 * @param {int} maxSize - Rotate the log file after this many megabytes
 */
func InitLogger(path, level string, console bool, maxSize int) {
	var output io.Writer
	if path == "console" || path == "" {
		output = os.Stderr
	} else {
		output = setupLogFileOutput(path, maxSize)
		if console {
			output = io.MultiWriter(os.Stdout, output)
		}
	}

	l := logrus.New()
	l.SetOutput(output)
	l.SetLevel(GetLogLevelFromString(level))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	defaultLogger = l
}

// setupLogFileOutput 设置日志文件输出
func setupLogFileOutput(logPath string, maxSize int) io.Writer {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create log directory failed: %v\n", err)
		return os.Stderr
	}
	if maxSize <= 0 {
		maxSize = 10
	}
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSize,
		MaxBackups: 3,
		Compress:   true,
	}
}

// SetOutput redirects the current logger, tests use it to capture output.
func SetOutput(w io.Writer) {
	if defaultLogger == nil {
		InitLogger("console", "debug", false, 0)
	}
	defaultLogger.SetOutput(w)
}

func WithField(key string, value interface{}) *logrus.Entry {
	if defaultLogger == nil {
		InitLogger("console", "warn", false, 0)
	}
	return defaultLogger.WithField(key, value)
}

// Debug 输出调试日志
func Debug(v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(v...)
	}
}

// Debugf 输出格式化调试日志
func Debugf(format string, v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debugf(format, v...)
	}
}

// Info 输出信息日志
func Info(v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(v...)
	}
}

// Infof 输出格式化信息日志
func Infof(format string, v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Infof(format, v...)
	}
}

// Warn 输出警告日志
func Warn(v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(v...)
	}
}

// Warnf 输出格式化警告日志
func Warnf(format string, v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warnf(format, v...)
	}
}

// Error 输出错误日志
func Error(v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(v...)
	}
}

// Errorf 输出格式化错误日志
func Errorf(format string, v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, v...)
	}
}

// Fatal 输出致命错误日志并退出程序
func Fatal(v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Fatal(v...)
	} else {
		fmt.Fprintln(os.Stderr, append([]interface{}{"FATAL:"}, v...)...)
		os.Exit(1)
	}
}

// Fatalf 输出格式化致命错误日志并退出程序
func Fatalf(format string, v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Fatalf(format, v...)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", v...)
		os.Exit(1)
	}
}
