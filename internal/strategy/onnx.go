package strategy

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// InitONNXRuntime 初始化 onnxruntime 共享库，进程内只执行一次。
func InitONNXRuntime(libPath string) error {
	ortOnce.Do(func() {
		if libPath == "" {
			libPath = defaultORTLibrary()
		}
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

func defaultORTLibrary() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	}
	return "/usr/lib/libonnxruntime.so"
}

// ONNXPredictor 通过 onnxruntime 执行分类模型。输入名 input，输出名 output。
type ONNXPredictor struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// ONNXOpener 返回绑定了运行库路径的 PredictorOpener。
func ONNXOpener(libPath string) PredictorOpener {
	return func(modelPath string, featureDim, outputDim int) (Predictor, error) {
		if err := InitONNXRuntime(libPath); err != nil {
			return nil, fmt.Errorf("init onnxruntime: %w", err)
		}
		return NewONNXPredictor(modelPath, featureDim, outputDim)
	}
}

func NewONNXPredictor(modelPath string, featureDim, outputDim int) (*ONNXPredictor, error) {
	input, err := ort.NewTensor(ort.NewShape(1, int64(featureDim)), make([]float32, featureDim))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(outputDim)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}
	return &ONNXPredictor{session: session, input: input, output: output}, nil
}

func (p *ONNXPredictor) Predict(features []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data := p.input.GetData()
	if len(features) != len(data) {
		return nil, fmt.Errorf("feature dim %d, model expects %d", len(features), len(data))
	}
	copy(data, features)
	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return append([]float32(nil), p.output.GetData()...), nil
}

func (p *ONNXPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	if p.input != nil {
		p.input.Destroy()
		p.input = nil
	}
	if p.output != nil {
		p.output.Destroy()
		p.output = nil
	}
	return nil
}
