package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"alphadesk/internal/types"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// LotMode 是下单手数的计算方式。
const (
	LotModeFixed       = "fixed"
	LotModeRiskPercent = "risk_percent"
)

// EngineConfig 是可整体替换的交易参数单元。加载时先填充 default 标签，再覆盖文件中出现的键。
type EngineConfig struct {
	Symbols                 []string           `json:"symbols" yaml:"symbols" mapstructure:"symbols" validate:"required,min=1,dive,required"`
	Timeframe               string             `json:"timeframe" yaml:"timeframe" mapstructure:"timeframe" default:"15m" validate:"required,interval"`
	TickInterval            string             `json:"tick_interval" yaml:"tick_interval" mapstructure:"tick_interval" default:"1m" validate:"required,interval"`
	LotMode                 string             `json:"lot_mode" yaml:"lot_mode" mapstructure:"lot_mode" default:"fixed" validate:"oneof=fixed risk_percent"`
	LotSize                 float64            `json:"lot_size" yaml:"lot_size" mapstructure:"lot_size" default:"0.01" validate:"gt=0"`
	RiskPercent             float64            `json:"risk_percent" yaml:"risk_percent" mapstructure:"risk_percent" default:"1.0" validate:"gt=0,lte=100"`
	SLDistance              float64            `json:"sl_distance" yaml:"sl_distance" mapstructure:"sl_distance" default:"300" validate:"gte=0"`
	TPDistance              float64            `json:"tp_distance" yaml:"tp_distance" mapstructure:"tp_distance" default:"600" validate:"gte=0"`
	ConfidenceThreshold     float64            `json:"confidence_threshold" yaml:"confidence_threshold" mapstructure:"confidence_threshold" default:"0.6" validate:"gte=0,lte=1"`
	MaxSpread               float64            `json:"max_spread" yaml:"max_spread" mapstructure:"max_spread" default:"50" validate:"gte=0"`
	SinglePositionPerSymbol bool               `json:"single_position_per_symbol" yaml:"single_position_per_symbol" mapstructure:"single_position_per_symbol" default:"true"`
	TimeExitBars            int                `json:"time_exit_bars" yaml:"time_exit_bars" mapstructure:"time_exit_bars" validate:"gte=0"`
	Trailing                TrailingConfig     `json:"trailing" yaml:"trailing" mapstructure:"trailing"`
	PartialClose            PartialCloseConfig `json:"partial_close" yaml:"partial_close" mapstructure:"partial_close"`
	Risk                    RiskLimits         `json:"risk" yaml:"risk" mapstructure:"risk"`
	News                    NewsFilterConfig   `json:"news" yaml:"news" mapstructure:"news"`
	BrokerTimezone          string             `json:"broker_timezone" yaml:"broker_timezone" mapstructure:"broker_timezone" default:"UTC" validate:"required,timezone"`
	DayStartHour            int                `json:"day_start_hour" yaml:"day_start_hour" mapstructure:"day_start_hour" validate:"gte=0,lte=23"`
	Point                   float64            `json:"point" yaml:"point" mapstructure:"point" default:"0.01" validate:"gt=0"`
	ContractSize            float64            `json:"contract_size" yaml:"contract_size" mapstructure:"contract_size" default:"100" validate:"gt=0"`
}

// TrailingConfig 距离均以点为单位。Activation 为 0 时等于 Distance。
type TrailingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Activation float64 `json:"activation" yaml:"activation" mapstructure:"activation" validate:"gte=0"`
	Distance   float64 `json:"distance" yaml:"distance" mapstructure:"distance" default:"50" validate:"gt=0"`
	Step       float64 `json:"step" yaml:"step" mapstructure:"step" validate:"gte=0"`
}

// PartialCloseConfig 控制 TP1 分批止盈。
type PartialCloseConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	TP1Distance float64 `json:"tp1_distance" yaml:"tp1_distance" mapstructure:"tp1_distance" default:"50" validate:"gt=0"`
	Percent     float64 `json:"percent" yaml:"percent" mapstructure:"percent" default:"50" validate:"gt=0,lte=100"`
}

// RiskLimits 为 0 表示不启用对应阈值。
type RiskLimits struct {
	MaxDailyLoss float64 `json:"max_daily_loss" yaml:"max_daily_loss" mapstructure:"max_daily_loss" default:"500" validate:"gte=0"`
	MinEquity    float64 `json:"min_equity" yaml:"min_equity" mapstructure:"min_equity" validate:"gte=0"`
}

type NewsFilterConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	BufferMinutes int    `json:"buffer_minutes" yaml:"buffer_minutes" mapstructure:"buffer_minutes" default:"30" validate:"gte=0"`
	MinImpact     string `json:"min_impact" yaml:"min_impact" mapstructure:"min_impact" default:"HIGH" validate:"oneof=LOW MEDIUM HIGH low medium high"`
}

// DefaultEngineConfig 返回只含默认值的配置，symbols 预置 XAUUSD。
func DefaultEngineConfig() EngineConfig {
	var cfg EngineConfig
	_ = defaults.Set(&cfg)
	cfg.Symbols = []string{"XAUUSD"}
	return cfg
}

// Location 返回券商时区，非法值回落 UTC。
func (c EngineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.BrokerTimezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// TimeframeDuration 返回 K 线周期。
func (c EngineConfig) TimeframeDuration() time.Duration {
	d, _ := ParseIntervalDuration(c.Timeframe)
	return d
}

// TickDuration 返回决策循环周期。
func (c EngineConfig) TickDuration() time.Duration {
	d, _ := ParseIntervalDuration(c.TickInterval)
	return d
}

// MinImpactLevel 返回新闻过滤的最低影响级别。
func (c EngineConfig) MinImpactLevel() types.Impact {
	lvl, err := types.ParseImpact(c.News.MinImpact)
	if err != nil {
		return types.ImpactHigh
	}
	return lvl
}

// NewsBuffer 返回新闻前后禁入窗口。
func (c EngineConfig) NewsBuffer() time.Duration {
	return time.Duration(c.News.BufferMinutes) * time.Minute
}

// TrailingActivation 返回生效的追踪激活距离（点）。
func (c EngineConfig) TrailingActivation() float64 {
	if c.Trailing.Activation > 0 {
		return c.Trailing.Activation
	}
	return c.Trailing.Distance
}

// Clone 深拷贝，避免共享 Symbols 切片。
func (c EngineConfig) Clone() EngineConfig {
	out := c
	out.Symbols = append([]string(nil), c.Symbols...)
	return out
}

// HasSymbol 判断品种是否在交易列表中。
func (c EngineConfig) HasSymbol(symbol string) bool {
	for _, s := range c.Symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// LoadEngineConfig 从 yaml/json 文件读取引擎配置并校验。
func LoadEngineConfig(path string) (EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return EngineConfig{}, fmt.Errorf("reading engine config failed (%s): %w", path, err)
	}
	return decodeEngineConfig(v)
}

func decodeEngineConfig(v *viper.Viper) (EngineConfig, error) {
	var cfg EngineConfig
	if err := defaults.Set(&cfg); err != nil {
		return EngineConfig{}, err
	}
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return EngineConfig{}, fmt.Errorf("parsing engine config failed: %w", err)
	}
	cfg.normalize()
	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// ParseEngineConfigJSON 解析 API 提交的完整配置，缺省字段取默认值。
func ParseEngineConfigJSON(raw []byte) (EngineConfig, error) {
	var cfg EngineConfig
	if err := defaults.Set(&cfg); err != nil {
		return EngineConfig{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return EngineConfig{}, types.ConfigValidationErrors{{Field: "body", Reason: err.Error()}}
	}
	cfg.normalize()
	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func (c *EngineConfig) normalize() {
	seen := make(map[string]bool, len(c.Symbols))
	out := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	c.Symbols = out
	c.LotMode = strings.ToLower(strings.TrimSpace(c.LotMode))
	c.News.MinImpact = strings.ToUpper(strings.TrimSpace(c.News.MinImpact))
	c.Timeframe = strings.TrimSpace(c.Timeframe)
	c.TickInterval = strings.TrimSpace(c.TickInterval)
}

var engineValidator = newEngineValidator()

func newEngineValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("interval", func(fl validator.FieldLevel) bool {
		_, err := ParseIntervalDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// ValidateEngineConfig 返回 types.ConfigValidationErrors，字段名使用 json 路径。
func ValidateEngineConfig(cfg EngineConfig) error {
	var out types.ConfigValidationErrors
	if err := engineValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return types.ConfigValidationErrors{{Field: "config", Reason: err.Error()}}
		}
		for _, fe := range verrs {
			out = append(out, &types.ConfigValidationError{
				Field:  fieldPath(fe.Namespace()),
				Reason: describeTag(fe),
			})
		}
	}
	if cfg.LotMode == LotModeRiskPercent && cfg.SLDistance <= 0 {
		out = append(out, &types.ConfigValidationError{Field: "sl_distance", Reason: "must be > 0 when lot_mode=risk_percent"})
	}
	if cfg.Trailing.Step > cfg.Trailing.Distance {
		out = append(out, &types.ConfigValidationError{Field: "trailing.step", Reason: "must not exceed trailing.distance"})
	}
	if tf, tick := cfg.TimeframeDuration(), cfg.TickDuration(); tf > 0 && tick > tf {
		out = append(out, &types.ConfigValidationError{Field: "tick_interval", Reason: "must not exceed timeframe"})
	}
	if len(out) == 0 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func fieldPath(ns string) string {
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return ns
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	case "gt":
		return "must be > " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "interval":
		return "must be an interval like 1m, 15m, 1h"
	case "timezone":
		return "must be an IANA timezone"
	}
	return "failed " + fe.Tag()
}

// engineConfigType 根据扩展名推断 viper 配置类型。
func engineConfigType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	}
	return "yaml"
}
