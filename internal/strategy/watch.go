package strategy

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"alphadesk/internal/logger"

	"github.com/fsnotify/fsnotify"
)

const defaultBundleDebounce = 300 * time.Millisecond

// LoadFunc 从清单路径加载策略，通常为 (*Registry).LoadFile。
type LoadFunc func(path string) (Agent, error)

// BundleWatcher 监听策略包清单；变化后重新加载，成功交给 OnAgent，失败交给 OnError，旧策略继续生效。
type BundleWatcher struct {
	path     string
	load     LoadFunc
	debounce time.Duration

	mu      sync.Mutex
	onAgent []func(Agent)
	onError []func(error)
}

func NewBundleWatcher(path string, load LoadFunc) *BundleWatcher {
	return &BundleWatcher{path: filepath.Clean(path), load: load, debounce: defaultBundleDebounce}
}

func (w *BundleWatcher) OnAgent(fn func(Agent)) {
	w.mu.Lock()
	w.onAgent = append(w.onAgent, fn)
	w.mu.Unlock()
}

func (w *BundleWatcher) OnError(fn func(error)) {
	w.mu.Lock()
	w.onError = append(w.onError, fn)
	w.mu.Unlock()
}

// Run 监听清单所在目录（编辑器常以重命名方式保存），直到 ctx 取消。
func (w *BundleWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("bundle watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("bundle watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	logger.Infof("[strategy] 监听策略包 %s", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("[strategy] 监听错误: %v", err)
		case <-timer.C:
			w.Reload()
		}
	}
}

// Reload 立即重新加载一次清单。
func (w *BundleWatcher) Reload() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[strategy] reload panic: %v", r)
		}
	}()
	agent, err := w.load(w.path)
	w.mu.Lock()
	agentFns := slices.Clone(w.onAgent)
	errFns := slices.Clone(w.onError)
	w.mu.Unlock()
	if err != nil {
		logger.Warnf("[strategy] 策略包 %s 重新加载失败，保留当前策略: %v", w.path, err)
		for _, fn := range errFns {
			fn(err)
		}
		return
	}
	logger.Infof("[strategy] 策略包已重新加载: %s (schema v%d)", agent.Name(), agent.SchemaVersion())
	for _, fn := range agentFns {
		fn(agent)
	}
}
