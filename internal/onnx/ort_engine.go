package onnx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/go-voice-assistant/internal/config"
)

// DefaultAPIVersion is the ORT C API version requested when none is configured.
const DefaultAPIVersion = 23

// ORTConfig configures the ONNX Runtime engine.
type ORTConfig struct {
	Runtime config.RuntimeConfig
	// CacheDir receives model files unpacked from packaged bytes. Empty means
	// the user cache directory.
	CacheDir string
	LogID    string
}

// ORTEngine is the Engine backed by the ONNX Runtime shared library.
type ORTEngine struct {
	cfg    ORTConfig
	logger *slog.Logger
}

// NewORTEngine returns an engine. The library is not loaded until
// NewEnvironment.
func NewORTEngine(cfg ORTConfig, logger *slog.Logger) *ORTEngine {
	if cfg.LogID == "" {
		cfg.LogID = "voiceassistant"
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ORTEngine{cfg: cfg, logger: logger}
}

func (e *ORTEngine) cacheDir() (string, error) {
	dir := e.cfg.CacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}

		dir = filepath.Join(base, "voiceassistant", "models")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model cache dir: %w", err)
	}

	return dir, nil
}

// materializeModel writes model bytes to a content-addressed file in dir and
// returns its path. An existing file with the same digest is reused.
func materializeModel(dir, id string, model []byte) (string, error) {
	sum := sha256.Sum256(model)
	name := fmt.Sprintf("%s-%s.onnx", sanitizeID(id), hex.EncodeToString(sum[:8]))
	path := filepath.Join(dir, name)

	if st, err := os.Stat(path); err == nil && st.Size() == int64(len(model)) {
		return path, nil
	}

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create model cache file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(model); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return "", fmt.Errorf("write model cache file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close model cache file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("install model cache file: %w", err)
	}

	return path, nil
}

func sanitizeID(id string) string {
	out := []rune(id)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			out[i] = '_'
		}
	}

	if len(out) == 0 {
		return "model"
	}

	return string(out)
}
