package notify

import (
	"context"

	"alphadesk/internal/types"
)

// Sink 是事件的一个下游。Send 失败只影响该下游。
type Sink interface {
	Name() string
	Send(ctx context.Context, ev types.Event) error
}

// TextNotifier 是最小的文本推送接口，Telegram 客户端实现它。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Filter 决定某个下游是否接收该事件。
type Filter func(types.Event) bool

// MinSeverity 只放行不低于 sev 的事件。
func MinSeverity(sev types.Severity) Filter {
	rank := map[types.Severity]int{types.SeverityInfo: 0, types.SeverityWarn: 1, types.SeverityError: 2}
	return func(ev types.Event) bool {
		return rank[ev.Severity] >= rank[sev]
	}
}

// Kinds 只放行指定类型。
func Kinds(kinds ...types.EventKind) Filter {
	set := make(map[types.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(ev types.Event) bool {
		_, ok := set[ev.Kind]
		return ok
	}
}

// Any 任一过滤器通过即放行。
func Any(fs ...Filter) Filter {
	return func(ev types.Event) bool {
		for _, f := range fs {
			if f(ev) {
				return true
			}
		}
		return false
	}
}
