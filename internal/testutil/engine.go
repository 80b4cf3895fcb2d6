package testutil

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/example/go-voice-assistant/internal/assets"
	"github.com/example/go-voice-assistant/internal/onnx"
)

// RunFunc computes the outputs of one forward pass of model.
type RunFunc func(ctx context.Context, model string, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)

// Engine is an in-memory onnx.Engine. Sessions call Run; model creation can
// be made to fail per model id.
type Engine struct {
	Run RunFunc

	envs   atomic.Int32
	runs   atomic.Int32
	closed atomic.Int32

	mu     sync.Mutex
	failOn map[string]error
}

// Fail makes session creation for model return err. A nil err clears it.
func (e *Engine) Fail(model string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failOn == nil {
		e.failOn = map[string]error{}
	}
	if err == nil {
		delete(e.failOn, model)
		return
	}
	e.failOn[model] = err
}

// Environments reports how many environments were created.
func (e *Engine) Environments() int { return int(e.envs.Load()) }

// Runs reports how many forward passes were executed.
func (e *Engine) Runs() int { return int(e.runs.Load()) }

// Closed reports how many sessions and environments were closed.
func (e *Engine) Closed() int { return int(e.closed.Load()) }

// NewEnvironment implements onnx.Engine.
func (e *Engine) NewEnvironment(context.Context) (onnx.Environment, error) {
	e.envs.Add(1)
	return &fakeEnv{engine: e}, nil
}

type fakeEnv struct {
	engine *Engine
}

func (f *fakeEnv) NewSession(_ context.Context, info assets.ModelInfo, model []byte, opts onnx.SessionOptions) (onnx.Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	f.engine.mu.Lock()
	err := f.engine.failOn[info.ID]
	f.engine.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if len(model) == 0 {
		return nil, errors.New("empty model")
	}

	return &fakeSession{engine: f.engine, model: info.ID}, nil
}

func (f *fakeEnv) Close() error {
	f.engine.closed.Add(1)
	return nil
}

type fakeSession struct {
	engine *Engine
	model  string
}

func (s *fakeSession) Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	s.engine.runs.Add(1)

	if s.engine.Run == nil {
		return nil, fmt.Errorf("no run function for %q", s.model)
	}

	return s.engine.Run(ctx, s.model, inputs)
}

func (s *fakeSession) Close() error {
	s.engine.closed.Add(1)
	return nil
}

// ModelFS returns an in-memory model directory with a models.json manifest
// and a non-empty blob for every model.
func ModelFS(tb testing.TB, models ...assets.ModelInfo) fstest.MapFS {
	tb.Helper()

	fsys := fstest.MapFS{}
	for i := range models {
		if models[i].Filename == "" {
			models[i].Filename = models[i].ID + ".onnx"
		}
		fsys[models[i].Filename] = &fstest.MapFile{Data: []byte("onnx:" + models[i].ID)}
	}

	data, err := json.Marshal(map[string]any{"models": models})
	if err != nil {
		tb.Fatalf("marshal model manifest: %v", err)
	}
	fsys[assets.ManifestName] = &fstest.MapFile{Data: data}

	return fsys
}

// NewManager builds an onnx.Manager over ModelFS(models) and the engine.
func NewManager(tb testing.TB, engine *Engine, models ...assets.ModelInfo) *onnx.Manager {
	tb.Helper()

	loader, err := assets.NewFSLoader(ModelFS(tb, models...), assets.ManifestName)
	if err != nil {
		tb.Fatalf("NewFSLoader: %v", err)
	}

	specs := make([]onnx.ModelSpec, 0, len(models))
	for _, m := range models {
		specs = append(specs, onnx.ModelSpec{ID: m.ID})
	}

	mgr, err := onnx.NewManager(engine, loader, specs)
	if err != nil {
		tb.Fatalf("NewManager: %v", err)
	}
	tb.Cleanup(func() { _ = mgr.Close() })

	return mgr
}

// WriteVoicePack writes a raw float32 style pack of rows x dim for every id
// plus a voices manifest into dir and returns the manifest path. Row r is
// filled with the value r.
func WriteVoicePack(tb testing.TB, dir string, rows, dim int, ids ...string) string {
	tb.Helper()

	type entry struct {
		ID   string `json:"id"`
		Path string `json:"path"`
		Dim  int    `json:"dim"`
	}

	var voices []entry
	for _, id := range ids {
		buf := make([]byte, 0, rows*dim*4)
		for r := range rows {
			for range dim {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(r)))
			}
		}

		name := id + ".bin"
		if err := os.WriteFile(filepath.Join(dir, name), buf, 0o644); err != nil {
			tb.Fatalf("write voice pack: %v", err)
		}
		voices = append(voices, entry{ID: id, Path: name, Dim: dim})
	}

	data, err := json.Marshal(map[string]any{"voices": voices})
	if err != nil {
		tb.Fatalf("marshal voice manifest: %v", err)
	}

	manifest := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifest, data, 0o644); err != nil {
		tb.Fatalf("write voice manifest: %v", err)
	}

	return manifest
}
