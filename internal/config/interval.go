package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var mtTimeframes = map[string]string{
	"m1": "1m", "m5": "5m", "m15": "15m", "m30": "30m",
	"h1": "1h", "h4": "4h", "d1": "1d", "w1": "1w",
}

// ParseIntervalDuration 解析 30s/15m/1h/1d/1w，同时接受 M15/H1 这类终端写法。
func ParseIntervalDuration(interval string) (time.Duration, error) {
	raw := interval
	interval = strings.ToLower(strings.TrimSpace(interval))
	if alias, ok := mtTimeframes[interval]; ok {
		interval = alias
	}
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(strings.TrimSpace(interval[:len(interval)-1]))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval unit in %q", raw)
}
