package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ruleBundle = `name: %s
kind: rule
schema_version: 1
params:
  fast_period: 12
  slow_period: 26
  rsi_overbought: 99
  rsi_oversold: 1
`

func writeBundle(t *testing.T, path, body string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

type agentSink struct {
	mu     sync.Mutex
	agents []Agent
	errs   []error
}

func (s *agentSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Name())
	}
	return out
}

func (s *agentSink) errCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func newAgentSink(w *BundleWatcher) *agentSink {
	s := &agentSink{}
	w.OnAgent(func(a Agent) {
		s.mu.Lock()
		s.agents = append(s.agents, a)
		s.mu.Unlock()
	})
	w.OnError(func(err error) {
		s.mu.Lock()
		s.errs = append(s.errs, err)
		s.mu.Unlock()
	})
	return s
}

func TestBundleWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeBundle(t, path, fmt.Sprintf(ruleBundle, "v1"))
	w := NewBundleWatcher(path, NewRegistry().LoadFile)
	sink := newAgentSink(w)

	w.Reload()
	assert.Equal(t, []string{"v1"}, sink.names())

	writeBundle(t, path, "name: broken\nkind: rule\nschema_version: 7\n")
	w.Reload()
	assert.Equal(t, 1, sink.errCount())
	assert.Equal(t, []string{"v1"}, sink.names())
}

func TestBundleWatcherCallbackMayRegisterDuringReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeBundle(t, path, fmt.Sprintf(ruleBundle, "v1"))
	w := NewBundleWatcher(path, NewRegistry().LoadFile)

	var first, late []string
	w.OnAgent(func(a Agent) {
		first = append(first, a.Name())
		if len(first) == 1 {
			w.OnAgent(func(a Agent) { late = append(late, a.Name()) })
		}
	})

	w.Reload()
	assert.Equal(t, []string{"v1"}, first)
	assert.Empty(t, late, "callback registered during a reload runs from the next reload on")

	writeBundle(t, path, fmt.Sprintf(ruleBundle, "v2"))
	w.Reload()
	assert.Equal(t, []string{"v1", "v2"}, first)
	assert.Equal(t, []string{"v2"}, late)
}

func TestBundleWatcherRunPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeBundle(t, path, fmt.Sprintf(ruleBundle, "v1"))
	w := NewBundleWatcher(path, NewRegistry().LoadFile)
	w.debounce = 10 * time.Millisecond
	sink := newAgentSink(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// 等待监听就绪后再写入
	time.Sleep(50 * time.Millisecond)
	writeBundle(t, path, fmt.Sprintf(ruleBundle, "v2"))

	assert.Eventually(t, func() bool {
		names := sink.names()
		return len(names) > 0 && names[len(names)-1] == "v2"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
