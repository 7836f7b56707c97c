package app

import (
	"fmt"
	"io"
	"strings"
)

// StartupSummary 是启动时打印的配置摘要。
type StartupSummary struct {
	Env          string
	Symbols      []string
	Timeframe    string
	TickInterval string
	Broker       string
	Agent        string
	AgentVersion int
	NewsProvider string
	Sinks        []string
	HTTPAddr     string
	Telegram     bool
	StorePath    string
	EnginePath   string
	Watching     bool
}

func (s *StartupSummary) Print(w io.Writer) {
	line := strings.Repeat("=", 80)
	fmt.Fprintln(w, line)
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, line)

	fmt.Fprintln(w, "[交易 (TRADING)]")
	fmt.Fprintf(w, "  环境: %s\n", orDash(s.Env))
	fmt.Fprintf(w, "  品种: %s\n", formatList(s.Symbols))
	fmt.Fprintf(w, "  周期: %s / tick %s\n", orDash(s.Timeframe), orDash(s.TickInterval))
	fmt.Fprintf(w, "  券商: %s\n", orDash(s.Broker))
	fmt.Fprintf(w, "  策略: %s (schema v%d)\n", orDash(s.Agent), s.AgentVersion)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[通道 (CHANNELS)]")
	fmt.Fprintf(w, "  新闻来源: %s\n", orDash(s.NewsProvider))
	fmt.Fprintf(w, "  通知下游: %s\n", formatList(s.Sinks))
	if s.HTTPAddr != "" {
		fmt.Fprintf(w, "  RemoteAPI: %s\n", s.HTTPAddr)
	} else {
		fmt.Fprintln(w, "  RemoteAPI: (未启用)")
	}
	fmt.Fprintf(w, "  Telegram: %t\n", s.Telegram)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[存储 (STORAGE)]")
	fmt.Fprintf(w, "  数据库: %s\n", orDash(s.StorePath))
	fmt.Fprintf(w, "  引擎配置: %s (watch=%t)\n", orDash(s.EnginePath), s.Watching)
	fmt.Fprintln(w, line)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
