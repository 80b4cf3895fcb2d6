package tts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultStyleDim is the style vector width used when a voice omits "dim".
const DefaultStyleDim = 256

// ErrUnknownVoice is returned for a voice id absent from the manifest.
var ErrUnknownVoice = errors.New("unknown voice")

type Voice struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	License  string `json:"license,omitempty"`
	Language string `json:"language,omitempty"`
	Dim      int    `json:"dim,omitempty"`
}

type voiceManifest struct {
	Voices []Voice `json:"voices"`
}

// VoiceManager indexes a voices manifest and caches decoded style packs.
type VoiceManager struct {
	manifestPath string
	baseDir      string
	voices       []Voice
	byID         map[string]Voice

	mu     sync.Mutex
	styles map[string]*Style
}

func NewVoiceManager(manifestPath string) (*VoiceManager, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read voice manifest: %w", err)
	}

	var manifest voiceManifest

	err = json.Unmarshal(data, &manifest)
	if err != nil {
		return nil, fmt.Errorf("decode voice manifest: %w", err)
	}

	mgr := &VoiceManager{
		manifestPath: manifestPath,
		baseDir:      filepath.Dir(manifestPath),
		byID:         make(map[string]Voice, len(manifest.Voices)),
		styles:       map[string]*Style{},
	}

	for _, v := range manifest.Voices {
		if v.ID == "" {
			return nil, errors.New("voice manifest contains empty id")
		}

		if v.Path == "" {
			return nil, fmt.Errorf("voice %q has empty path", v.ID)
		}

		if _, exists := mgr.byID[v.ID]; exists {
			return nil, fmt.Errorf("duplicate voice id %q", v.ID)
		}

		if v.Dim < 0 {
			return nil, fmt.Errorf("voice %q has negative dim", v.ID)
		}

		if v.Dim == 0 {
			v.Dim = DefaultStyleDim
		}

		mgr.byID[v.ID] = v
		mgr.voices = append(mgr.voices, v)
	}

	return mgr, nil
}

func (m *VoiceManager) ListVoices() []Voice {
	return append([]Voice(nil), m.voices...)
}

// Has reports whether id is listed in the manifest.
func (m *VoiceManager) Has(id string) bool {
	_, ok := m.byID[id]
	return ok
}

func (m *VoiceManager) ResolvePath(id string) (string, error) {
	v, ok := m.byID[id]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownVoice, id)
	}

	resolved := v.Path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(m.baseDir, resolved)
	}

	resolved = filepath.Clean(resolved)

	_, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("voice file for %q: %w", id, err)
	}

	return resolved, nil
}

// Style returns the decoded style pack for id. Packs are loaded once and
// shared read-only afterwards.
func (m *VoiceManager) Style(id string) (*Style, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.styles[id]; ok {
		return s, nil
	}

	path, err := m.ResolvePath(id)
	if err != nil {
		return nil, err
	}

	s, err := LoadStyle(path, m.byID[id].Dim)
	if err != nil {
		return nil, fmt.Errorf("voice %q: %w", id, err)
	}

	m.styles[id] = s

	return s, nil
}
