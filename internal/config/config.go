package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envBindings 是允许仅通过环境变量提供的敏感配置项。
var envBindings = []string{
	"broker.api_key",
	"http.password_hash",
	"telegram.bot_token",
	"telegram.chat_id",
	"news.fmp_api_key",
	"notify.discord_webhook",
}

// Load 读取主配置（支持 include 递归合并），叠加 ALPHADESK_* 环境变量后应用默认值并校验。
// include 中的文件先于引用它的文件合并，后合并者覆盖先合并者。
func Load(path string) (*Config, error) {
	files, err := includeOrder(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("toml")
	for _, file := range files {
		part := viper.New()
		part.SetConfigFile(file)
		if err := part.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := v.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(explicitKeys(v))
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("ALPHADESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envBindings {
		_ = v.BindEnv(key)
	}
}

// explicitKeys 收集文件或环境变量中显式出现的键，默认值只填充其余字段。
func explicitKeys(v *viper.Viper) keySet {
	keys := make(keySet)
	for _, k := range v.AllKeys() {
		if v.IsSet(k) {
			keys.mark(k)
		}
	}
	return keys
}

// includeResolver 以深度优先后序展开 include，同一文件只出现一次。
type includeResolver struct {
	visiting map[string]bool
	done     map[string]bool
	order    []string
}

func includeOrder(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{visiting: map[string]bool{}, done: map[string]bool{}}
	if err := r.visit(abs); err != nil {
		return nil, err
	}
	return r.order, nil
}

func (r *includeResolver) visit(path string) error {
	path = filepath.Clean(path)
	switch {
	case r.visiting[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	case r.done[path]:
		return nil
	}
	r.visiting[path] = true
	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.visit(inc); err != nil {
			return err
		}
	}
	delete(r.visiting, path)
	r.done[path] = true
	r.order = append(r.order, path)
	return nil
}

// readIncludes 接受字符串或字符串数组。
func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var raw []any
	switch val := v.Get("include").(type) {
	case nil:
		return nil, nil
	case string:
		raw = []any{val}
	case []any:
		raw = val
	case []string:
		for _, s := range val {
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
