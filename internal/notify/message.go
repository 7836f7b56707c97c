package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"alphadesk/internal/types"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的文本推送。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	var b strings.Builder
	wrote := false
	for _, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if wrote {
			b.WriteString("\n")
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(sanitize(title) + "\n")
		}
		for _, line := range lines {
			b.WriteString("- " + sanitize(line) + "\n")
		}
		wrote = true
	}
	if !wrote {
		return ""
	}
	return "```\n" + b.String() + "```\n\n"
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

var eventIcons = map[types.EventKind]string{
	types.EventEngineStarted:     "▶️",
	types.EventEngineStopped:     "⏸",
	types.EventPositionOpened:    "🟢",
	types.EventPositionClosed:    "🔴",
	types.EventPartialClosed:     "🟡",
	types.EventStopMoved:         "🛡",
	types.EventOrderRejected:     "⛔",
	types.EventOrderFailed:       "⚠️",
	types.EventRiskHalt:          "🧯",
	types.EventNewsBlackout:      "📰",
	types.EventSignalFailed:      "❓",
	types.EventBrokerUnavailable: "📡",
	types.EventConfigApplied:     "⚙️",
	types.EventConfigRejected:    "⚙️",
	types.EventCommandCompleted:  "✅",
	types.EventReconciled:        "🔁",
}

// FormatEvent 把事件渲染成结构化消息。
func FormatEvent(ev types.Event) StructuredMessage {
	title := string(ev.Kind)
	if ev.Symbol != "" {
		title += " · " + ev.Symbol
	}
	detail := []string{ev.Message}
	if ev.Ticket != "" {
		detail = append(detail, "ticket: "+ev.Ticket)
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s: %v", k, ev.Fields[k]))
	}
	msg := StructuredMessage{
		Icon:      eventIcons[ev.Kind],
		Title:     title,
		Sections:  []MessageSection{{Lines: detail}, {Title: "详情", Lines: fields}},
		Timestamp: ev.Time,
	}
	if ev.CorrelationID != "" {
		msg.Footer = "ref: " + ev.CorrelationID
	}
	return msg
}
