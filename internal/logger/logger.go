// Package logger 是基于 log/slog 的全局分级日志，支持运行时切换级别与输出目标。
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

const timeLayout = "2006-01-02 15:04:05.000"

var (
	levelVar slog.LevelVar
	current  atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	current.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	w = io.MultiWriter(tail, w)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: &levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.String(slog.TimeKey, a.Value.Time().Format(timeLayout))
			}
			return a
		},
	}))
}

// SetOutput 替换日志输出目标，常用于同时写 stdout 与日志文件。nil 恢复为 stdout。
func SetOutput(w io.Writer) {
	current.Store(build(w))
}

// SetLevel 设置全局日志级别，未知取值回落到 info。
func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// ParseLevel 将配置中的级别字符串转换为 slog.Level。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func Level() slog.Level {
	return levelVar.Level()
}

// Slog 暴露底层 slog.Logger，供需要结构化字段的组件使用。
func Slog() *slog.Logger {
	return current.Load()
}

func logf(level slog.Level, format string, v []any) {
	l := current.Load()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v) }

// InfoBlock 按行输出多行文本块，空行跳过。
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if strings.TrimSpace(line) != "" {
			Infof("%s", line)
		}
	}
}
