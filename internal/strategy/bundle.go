package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"alphadesk/internal/logger"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Bundle 是策略包清单：实现类型、声明的 schema 版本与参数。
type Bundle struct {
	Name          string         `yaml:"name"`
	Kind          string         `yaml:"kind"`
	SchemaVersion int            `yaml:"schema_version"`
	Model         string         `yaml:"model,omitempty"`
	Params        map[string]any `yaml:"params,omitempty"`
	ParamsSchema  map[string]any `yaml:"params_schema,omitempty"`
	Members       []BundleMember `yaml:"members,omitempty"`

	dir string
}

// BundleMember 引用另一个清单文件或内联清单。
type BundleMember struct {
	Path   string  `yaml:"path,omitempty"`
	Weight float64 `yaml:"weight"`
	Bundle `yaml:",inline"`
}

// Dir 返回清单所在目录，用于解析相对路径。
func (b Bundle) Dir() string { return b.dir }

// Factory 根据清单构造策略。
type Factory func(r *Registry, b Bundle) (Agent, error)

type kindEntry struct {
	factory Factory
	schema  *jsonschema.Schema
}

// Registry 维护策略类型，并在加载时拒绝不兼容的清单。
type Registry struct {
	mu     sync.RWMutex
	kinds  map[string]kindEntry
	opener PredictorOpener
}

// RegistryOption 配置 Registry。
type RegistryOption func(*Registry)

// WithPredictorOpener 替换分类器的模型加载方式。
func WithPredictorOpener(fn PredictorOpener) RegistryOption {
	return func(r *Registry) { r.opener = fn }
}

// NewRegistry 返回已注册 rule / classifier / ensemble 三种内置类型的 Registry。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{kinds: make(map[string]kindEntry), opener: ONNXOpener("")}
	for _, opt := range opts {
		opt(r)
	}
	r.mustRegister("rule", ruleParamsSchema, buildRule)
	r.mustRegister("classifier", classifierParamsSchema, buildClassifier)
	r.mustRegister("ensemble", ensembleParamsSchema, buildEnsemble)
	return r
}

// Register 注册新的策略类型；paramsSchema 为空表示不校验参数。
func (r *Registry) Register(kind, paramsSchema string, f Factory) error {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || f == nil {
		return fmt.Errorf("register agent kind: kind and factory are required")
	}
	var compiled *jsonschema.Schema
	if paramsSchema != "" {
		s, err := compileSchema(kind+".params.json", []byte(paramsSchema))
		if err != nil {
			return fmt.Errorf("compile params schema for %s: %w", kind, err)
		}
		compiled = s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[kind]; exists {
		return fmt.Errorf("agent kind %s already registered", kind)
	}
	r.kinds[kind] = kindEntry{factory: f, schema: compiled}
	return nil
}

func (r *Registry) mustRegister(kind, schema string, f Factory) {
	if err := r.Register(kind, schema, f); err != nil {
		panic(err)
	}
}

// Kinds 返回已注册类型名。
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadFile 读取 yaml 清单并构造策略。
func (r *Registry) LoadFile(path string) (Agent, error) {
	b, err := ReadBundle(path)
	if err != nil {
		return nil, err
	}
	return r.Build(b)
}

// ReadBundle 解析清单文件，未知字段视为错误。
func ReadBundle(path string) (Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read bundle failed: %w", err)
	}
	var b Bundle
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("parse bundle %s failed: %w", path, err)
	}
	b.dir = filepath.Dir(path)
	if strings.TrimSpace(b.Name) == "" {
		b.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return b, nil
}

// Build 校验 schema 版本与参数后构造策略。
func (r *Registry) Build(b Bundle) (Agent, error) {
	b.Kind = strings.ToLower(strings.TrimSpace(b.Kind))
	if b.SchemaVersion == 0 {
		b.SchemaVersion = SchemaV1
	}
	if !SchemaSupported(b.SchemaVersion) {
		return nil, &IncompatibleSchemaError{Agent: b.Name, Version: b.SchemaVersion}
	}
	r.mu.RLock()
	entry, ok := r.kinds[b.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bundle %s: unknown kind %q (known: %v)", b.Name, b.Kind, r.Kinds())
	}
	params, err := normalizeParams(b.Params)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", b.Name, err)
	}
	if entry.schema != nil {
		if err := entry.schema.Validate(params); err != nil {
			return nil, fmt.Errorf("bundle %s params: %w", b.Name, err)
		}
	}
	if len(b.ParamsSchema) > 0 {
		raw, err := json.Marshal(b.ParamsSchema)
		if err != nil {
			return nil, err
		}
		s, err := compileSchema(b.Name+".custom.json", raw)
		if err != nil {
			return nil, fmt.Errorf("bundle %s params_schema: %w", b.Name, err)
		}
		if err := s.Validate(params); err != nil {
			return nil, fmt.Errorf("bundle %s params: %w", b.Name, err)
		}
	}
	agent, err := entry.factory(r, b)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", b.Name, err)
	}
	if !SchemaSupported(agent.SchemaVersion()) {
		return nil, &IncompatibleSchemaError{Agent: agent.Name(), Version: agent.SchemaVersion()}
	}
	logger.Infof("[strategy] 已加载策略 %s (kind=%s schema=v%d)", agent.Name(), b.Kind, agent.SchemaVersion())
	return agent, nil
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

// normalizeParams 经一次 JSON 往返，使 yaml 解出的数值类型与 jsonschema 期望一致。
func normalizeParams(params map[string]any) (any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return out, nil
}

func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}

func buildRule(_ *Registry, b Bundle) (Agent, error) {
	p := defaultRuleParams()
	if err := decodeParams(b.Params, &p); err != nil {
		return nil, err
	}
	return NewRuleAgent(b.Name, b.SchemaVersion, p)
}

func buildClassifier(r *Registry, b Bundle) (Agent, error) {
	p := defaultClassifierParams()
	if err := decodeParams(b.Params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(b.Model) == "" {
		return nil, fmt.Errorf("classifier requires model path")
	}
	path := b.Model
	if !filepath.IsAbs(path) && b.dir != "" {
		path = filepath.Join(b.dir, path)
	}
	model, err := r.opener(path, len(FeatureNames), 2)
	if err != nil {
		return nil, err
	}
	return NewClassifierAgent(b.Name, b.SchemaVersion, p, model)
}

func buildEnsemble(r *Registry, b Bundle) (Agent, error) {
	var p EnsembleParams
	if err := decodeParams(b.Params, &p); err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(b.Members))
	for i, m := range b.Members {
		child := m.Bundle
		if m.Path != "" {
			path := m.Path
			if !filepath.IsAbs(path) && b.dir != "" {
				path = filepath.Join(b.dir, path)
			}
			loaded, err := ReadBundle(path)
			if err != nil {
				return nil, fmt.Errorf("member %d: %w", i, err)
			}
			child = loaded
		} else {
			child.dir = b.dir
			if child.Name == "" {
				child.Name = fmt.Sprintf("%s.member%d", b.Name, i)
			}
		}
		agent, err := r.Build(child)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		members = append(members, Member{Agent: agent, Weight: m.Weight})
	}
	return NewEnsembleAgent(b.Name, p, members)
}
