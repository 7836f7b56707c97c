package types

import (
	"fmt"
	"strings"
	"time"
)

// Impact 是经济事件的影响级别，数值越大越重要。
type Impact int

const (
	ImpactLow Impact = iota + 1
	ImpactMedium
	ImpactHigh
)

// ParseImpact 接受 low/medium/high 及常见别名。
func ParseImpact(s string) (Impact, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1":
		return ImpactLow, nil
	case "medium", "moderate", "2":
		return ImpactMedium, nil
	case "high", "3":
		return ImpactHigh, nil
	}
	return 0, fmt.Errorf("unknown impact level %q", s)
}

func (i Impact) String() string {
	switch i {
	case ImpactLow:
		return "LOW"
	case ImpactMedium:
		return "MEDIUM"
	case ImpactHigh:
		return "HIGH"
	}
	return "UNKNOWN"
}

func (i Impact) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Impact) UnmarshalText(b []byte) error {
	v, err := ParseImpact(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// NewsEvent 是一条日历事件。Before/After 为零时使用全局缓冲。
type NewsEvent struct {
	Time     time.Time     `json:"time" yaml:"time"`
	Currency string        `json:"currency" yaml:"currency"`
	Title    string        `json:"title" yaml:"title"`
	Impact   Impact        `json:"impact" yaml:"impact"`
	Before   time.Duration `json:"before,omitempty" yaml:"before,omitempty"`
	After    time.Duration `json:"after,omitempty" yaml:"after,omitempty"`
	Source   string        `json:"source,omitempty" yaml:"source,omitempty"`
}
