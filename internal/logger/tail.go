package logger

import (
	"strings"
	"sync"
)

const tailCapacity = 1000

// tailRing 保留最近的日志行，供远程接口查看。
type tailRing struct {
	mu      sync.Mutex
	lines   []string
	next    int
	full    bool
	partial string
}

var tail = &tailRing{lines: make([]string, tailCapacity)}

func (r *tailRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chunk := r.partial + string(p)
	parts := strings.Split(chunk, "\n")
	r.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		if line == "" {
			continue
		}
		r.lines[r.next] = line
		r.next = (r.next + 1) % len(r.lines)
		if r.next == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

func (r *tailRing) last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	if r.full {
		size = len(r.lines)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]string, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if r.full {
			idx = (r.next + i) % len(r.lines)
		}
		out = append(out, r.lines[idx])
	}
	return out
}

// Tail 返回最近 n 行日志（旧的在前），n<=0 返回全部缓存。
func Tail(n int) []string {
	return tail.last(n)
}
