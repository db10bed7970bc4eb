package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pingcap/log"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/onnx-smoke/internal/tensor"
)

var ErrModelNotFound = errors.New("model file not found")

var (
	envMu   sync.Mutex
	envRefs int
)

type SessionConfig struct {
	ModelPath         string
	SharedLibraryPath string
	InputName         string
	Device            tensor.Device
}

// Session runs forward passes against one ONNX model file.
type Session struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	inputs  []TensorInfo
	outputs []TensorInfo
	cfg     SessionConfig
}

// initEnvironment takes a reference on the process-wide ONNX Runtime
// environment. Each successful call is paired with one destroyEnvironment.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func destroyEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return
	}
	envRefs--
	if envRefs > 0 || !ort.IsInitialized() {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		log.Warn("failed to destroy ONNX environment", zap.Error(err))
	}
}

func toInfo(in []ort.InputOutputInfo) []TensorInfo {
	infos := make([]TensorInfo, 0, len(in))
	for _, io := range in {
		infos = append(infos, TensorInfo{
			Name:     io.Name,
			Shape:    append([]int64(nil), io.Dimensions...),
			DataType: io.DataType.String(),
		})
	}
	return infos
}

func newSessionOptions(dev tensor.Device) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if !dev.IsCUDA() {
		return opts, nil
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
	}
	defer cuda.Destroy()

	if err := cuda.Update(map[string]string{
		"device_id": fmt.Sprint(dev.Index()),
	}); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to set CUDA device %s: %w", dev, err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to enable CUDA on %s: %w", dev, err)
	}
	return opts, nil
}

// NewSession loads the model at cfg.ModelPath. The returned session is bound
// to cfg.InputName and every output the model declares.
func NewSession(cfg SessionConfig) (*Session, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelNotFound, cfg.ModelPath, err)
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.Device == "" {
		cfg.Device = tensor.CPU
	}

	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	session, err := newSession(cfg)
	if err != nil {
		destroyEnvironment()
		return nil, err
	}
	return session, nil
}

func newSession(cfg SessionConfig) (*Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs/outputs: %w", err)
	}
	outputNames := make([]string, 0, len(outputs))
	for _, o := range outputs {
		outputNames = append(outputNames, o.Name)
	}

	opts, err := newSessionOptions(cfg.Device)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.Info("model loaded",
		zap.String("path", cfg.ModelPath),
		zap.String("device", string(cfg.Device)),
		zap.Strings("outputs", outputNames))

	return &Session{
		session: session,
		inputs:  toInfo(inputs),
		outputs: toInfo(outputs),
		cfg:     cfg,
	}, nil
}

func (s *Session) Inputs() []TensorInfo  { return s.inputs }
func (s *Session) Outputs() []TensorInfo { return s.outputs }
func (s *Session) InputName() string     { return s.cfg.InputName }

func (s *Session) Metadata() (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.session.GetModelMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	defer meta.Destroy()

	var m Metadata
	if m.Producer, err = meta.GetProducerName(); err != nil {
		return nil, err
	}
	if m.Description, err = meta.GetDescription(); err != nil {
		return nil, err
	}
	if m.Version, err = meta.GetVersion(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Run executes one forward pass with data bound to the session's input name.
// Outputs are returned as the runtime produced them.
func (s *Session) Run(ctx context.Context, data []float32, shape []int64) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	if err := s.session.Run([]ort.Value{input}, values); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	results := make([]Output, 0, len(values))
	for i, v := range values {
		out, err := convertOutput(s.outputs[i].Name, v)
		if err != nil {
			return nil, err
		}
		results = append(results, out)
	}
	return results, nil
}

// Close releases the session and its reference on the environment.
func (s *Session) Close() {
	if s.session == nil {
		return
	}
	s.session.Destroy()
	s.session = nil
	destroyEnvironment()
}
