package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"alphadesk/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EngineConfigListener 在配置文件变化并通过校验后被调用。
type EngineConfigListener func(EngineConfig)

// EngineConfigErrorListener 在变化后的文件无法通过校验时被调用，旧配置保持不变。
type EngineConfigErrorListener func(error)

// EngineWatcher 监听引擎配置文件，变化时重新加载并通知监听者。
type EngineWatcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   EngineConfig
	version   int
	onChange  []EngineConfigListener
	onInvalid []EngineConfigErrorListener
}

// NewEngineWatcher 读取一次配置；watch=true 时开始监听文件变化。
func NewEngineWatcher(path string, watch bool) (*EngineWatcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(engineConfigType(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading engine config failed (%s): %w", path, err)
	}
	cfg, err := decodeEngineConfig(v)
	if err != nil {
		return nil, err
	}
	w := &EngineWatcher{path: path, v: v, current: cfg, version: 1}
	if watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			w.reload(evt)
		})
		v.WatchConfig()
	}
	return w, nil
}

// Current 返回最近一次通过校验的配置。
func (w *EngineWatcher) Current() (EngineConfig, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Clone(), w.version
}

// Path 返回被监听的文件路径。
func (w *EngineWatcher) Path() string {
	return w.path
}

func (w *EngineWatcher) OnChange(fn EngineConfigListener) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

func (w *EngineWatcher) OnInvalid(fn EngineConfigErrorListener) {
	w.mu.Lock()
	w.onInvalid = append(w.onInvalid, fn)
	w.mu.Unlock()
}

func (w *EngineWatcher) reload(evt fsnotify.Event) {
	defer safeRecover("engine config reload")
	cfg, err := decodeEngineConfig(w.v)
	w.mu.Lock()
	if err == nil {
		w.current = cfg
		w.version++
	}
	changeFns := append([]EngineConfigListener(nil), w.onChange...)
	invalidFns := append([]EngineConfigErrorListener(nil), w.onInvalid...)
	w.mu.Unlock()
	if err != nil {
		logger.Warnf("[config] 引擎配置 %s 变更未通过校验，保留旧配置: %v", evt.Name, err)
		for _, fn := range invalidFns {
			fn(err)
		}
		return
	}
	logger.Infof("[config] 引擎配置 %s 已重新加载 (%s)", evt.Name, evt.Op)
	for _, fn := range changeFns {
		fn(cfg.Clone())
	}
}

// SaveEngineConfig 以 yaml 原子写入配置文件。
func SaveEngineConfig(path string, cfg EngineConfig) error {
	if err := ValidateEngineConfig(cfg); err != nil {
		return err
	}
	var raw []byte
	var err error
	if engineConfigType(path) == "json" {
		raw, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		raw, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".engine-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
