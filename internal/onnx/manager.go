package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/go-voice-assistant/internal/assets"
	"github.com/example/go-voice-assistant/internal/lifecycle"
)

// Manager owns one runtime environment and the sessions for a fixed set of
// models. Initialize is explicit; Session never triggers it.
type Manager struct {
	engine Engine
	loader assets.Loader
	specs  []ModelSpec
	logger *slog.Logger

	once lifecycle.Once

	mu      sync.RWMutex
	env     Environment
	handles map[string]*Handle
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager validates the model list. No runtime work happens until
// Initialize.
func NewManager(engine Engine, loader assets.Loader, specs []ModelSpec, opts ...ManagerOption) (*Manager, error) {
	if engine == nil {
		return nil, errors.New("onnx: engine is required")
	}

	if loader == nil {
		return nil, errors.New("onnx: model loader is required")
	}

	if len(specs) == 0 {
		return nil, errors.New("onnx: at least one model is required")
	}

	seen := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return nil, errors.New("onnx: model id is required")
		}

		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("onnx: duplicate model %q", s.ID)
		}

		seen[s.ID] = struct{}{}
	}

	m := &Manager{
		engine: engine,
		loader: loader,
		specs:  append([]ModelSpec(nil), specs...),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Initialize creates the environment and every session exactly once.
// Concurrent callers share the in-flight attempt. A failed attempt leaves
// nothing behind and may be retried by calling Initialize again.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.once.Do(ctx, m.initialize)
}

func (m *Manager) initialize(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "initialize sessions")
	defer span.End()

	start := time.Now()

	env, err := m.engine.NewEnvironment(ctx)
	if err != nil {
		err = &ModelLoadError{Reason: "create environment", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	handles := make(map[string]*Handle, len(m.specs))

	defer func() {
		if err == nil {
			return
		}

		for id, h := range handles {
			if cerr := h.session.Close(); cerr != nil {
				m.logger.Warn("close session after failed init", slog.String("model", id), slog.Any("error", cerr))
			}
		}

		if cerr := env.Close(); cerr != nil {
			m.logger.Warn("close environment after failed init", slog.Any("error", cerr))
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}()

	for _, spec := range m.specs {
		h, err := m.load(ctx, env, spec)
		if err != nil {
			return err
		}

		handles[spec.ID] = h
	}

	m.mu.Lock()
	m.env = env
	m.handles = handles
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("onnx.sessions", len(handles)))
	m.logger.Info("inference sessions ready",
		slog.Int("models", len(handles)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

func (m *Manager) load(ctx context.Context, env Environment, spec ModelSpec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ModelLoadError{Model: spec.ID, Reason: "cancelled", Err: err}
	}

	if err := spec.Options.Validate(); err != nil {
		return nil, &ModelLoadError{Model: spec.ID, Reason: "invalid session options", Err: err}
	}

	info, err := m.loader.Info(spec.ID)
	if err != nil {
		return nil, &ModelLoadError{Model: spec.ID, Reason: "resolve model", Err: err}
	}

	data, err := m.loader.OpenModelBytes(spec.ID)
	if err != nil {
		return nil, &ModelLoadError{Model: spec.ID, Reason: "read model bytes", Err: err}
	}

	if len(data) == 0 {
		return nil, &ModelLoadError{Model: spec.ID, Reason: "model blob is empty"}
	}

	sess, err := env.NewSession(ctx, info, data, spec.Options)
	if err != nil {
		return nil, &ModelLoadError{Model: spec.ID, Reason: "create session", Err: err}
	}

	m.logger.Debug("model session created",
		slog.String("model", spec.ID),
		slog.Int("bytes", len(data)),
	)

	return &Handle{info: info, session: sess}, nil
}

// Session returns the handle for modelID. It fails with ErrNotInitialized
// until Initialize has succeeded.
func (m *Manager) Session(modelID string) (*Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.handles == nil {
		return nil, ErrNotInitialized
	}

	h, ok := m.handles[modelID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModel, modelID)
	}

	return h, nil
}

// Ready reports whether Initialize has succeeded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.handles != nil
}

// Models returns the configured model ids.
func (m *Manager) Models() []string {
	ids := make([]string, 0, len(m.specs))
	for _, s := range m.specs {
		ids = append(ids, s.ID)
	}

	return ids
}

// Close releases every session and the environment. The manager can be
// initialized again afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error

	for id, h := range m.handles {
		if err := h.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %q: %w", id, err))
		}
	}

	if m.env != nil {
		if err := m.env.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close environment: %w", err))
		}
	}

	m.handles = nil
	m.env = nil
	m.once.Reset()

	return errors.Join(errs...)
}
