//go:build !windows && !(js && wasm)

package onnx

import (
	"context"
	"fmt"
	"log/slog"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/go-voice-assistant/internal/assets"
)

// NewEnvironment loads the ONNX Runtime library and creates one ORT env.
func (e *ORTEngine) NewEnvironment(ctx context.Context) (Environment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := DetectRuntime(e.cfg.Runtime)
	if err != nil {
		return nil, err
	}

	cacheDir, err := e.cacheDir()
	if err != nil {
		return nil, err
	}

	apiVersion := uint32(e.cfg.Runtime.APIVersion)
	if apiVersion == 0 {
		apiVersion = DefaultAPIVersion
	}

	runtime, err := ort.NewRuntime(info.LibraryPath, apiVersion)
	if err != nil {
		return nil, fmt.Errorf("initialize ONNX Runtime (lib=%q api=%d): %w", info.LibraryPath, apiVersion, err)
	}

	env, err := runtime.NewEnv(e.cfg.LogID, ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("create ONNX Runtime env: %w", err)
	}

	e.logger.Info("onnx runtime loaded",
		slog.String("library", info.LibraryPath),
		slog.String("version", info.Version),
		slog.String("source", info.Source),
		slog.Int("api_version", int(apiVersion)),
	)

	return &ortEnvironment{
		runtime:  runtime,
		env:      env,
		cacheDir: cacheDir,
		logger:   e.logger,
	}, nil
}

type ortEnvironment struct {
	runtime  *ort.Runtime
	env      *ort.Env
	cacheDir string
	logger   *slog.Logger
}

func (e *ortEnvironment) NewSession(ctx context.Context, info assets.ModelInfo, model []byte, opts SessionOptions) (Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	path, err := materializeModel(e.cacheDir, info.ID, model)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.IntraOpThreads > 0 || opts.InterOpThreads > 0 {
		e.logger.Debug("session thread counts left to runtime defaults",
			slog.String("model", info.ID),
			slog.Int("intra_op", opts.IntraOpThreads),
			slog.Int("inter_op", opts.InterOpThreads),
		)
	}

	session, err := e.runtime.NewSession(e.env, path, nil)
	if err != nil {
		return nil, fmt.Errorf("ort session for %q (%s): %w", info.ID, path, err)
	}

	return &ortSession{name: info.ID, runtime: e.runtime, session: session}, nil
}

func (e *ortEnvironment) Close() error {
	if e.env != nil {
		e.env.Close()
		e.env = nil
	}

	if e.runtime != nil {
		err := e.runtime.Close()
		e.runtime = nil

		return err
	}

	return nil
}

type ortSession struct {
	name    string
	runtime *ort.Runtime
	session *ort.Session
}

// Run executes the graph with the given named input tensors.
func (s *ortSession) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	ortInputs := make(map[string]*ort.Value, len(inputs))
	for name, t := range inputs {
		v, err := tensorToORT(s.runtime, t)
		if err != nil {
			closeORTValues(ortInputs)
			return nil, fmt.Errorf("input %q: %w", name, err)
		}

		ortInputs[name] = v
	}

	defer closeORTValues(ortInputs)

	ortOutputs, err := s.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", s.name, err)
	}
	defer closeORTValues(ortOutputs)

	results := make(map[string]*Tensor, len(ortOutputs))
	for name, v := range ortOutputs {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}

		results[name] = t
	}

	return results, nil
}

func (s *ortSession) Close() error {
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}

	return nil
}

func tensorToORT(runtime *ort.Runtime, t *Tensor) (*ort.Value, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}

	switch t.DType() {
	case DTypeFloat32:
		return ort.NewTensorValue(runtime, t.f32, t.Shape())
	case DTypeInt64:
		return ort.NewTensorValue(runtime, t.i64, t.Shape())
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", t.DType())
	}
}

func ortToTensor(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("get element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}

		return NewTensor(data, shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}

		return NewTensor(data, shape)
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
