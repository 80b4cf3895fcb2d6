// Package assets resolves packaged model blobs and the metadata that is
// documented alongside them (tensor names, native sample rate).
package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
)

// ManifestName is the file name of the model manifest inside a model directory.
const ManifestName = "models.json"

// ErrResourceNotFound is returned when a packaged model blob is missing.
var ErrResourceNotFound = errors.New("resource not found")

// NodeInfo describes one named graph input or output.
type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// TensorNames maps the synthesizer's logical tensors to graph node names.
type TensorNames struct {
	Tokens     string `json:"tokens"`
	Style      string `json:"style"`
	Speed      string `json:"speed"`
	Waveform   string `json:"waveform"`
	SampleRate string `json:"sample_rate"`
}

// ModelInfo is the manifest entry for one packaged model.
type ModelInfo struct {
	ID         string      `json:"id"`
	Filename   string      `json:"filename"`
	SampleRate int         `json:"sample_rate"`
	MaxTokens  int         `json:"max_tokens"`
	Tensors    TensorNames `json:"tensors"`
	Inputs     []NodeInfo  `json:"inputs"`
	Outputs    []NodeInfo  `json:"outputs"`
}

// Loader opens packaged model bytes by model id.
type Loader interface {
	OpenModelBytes(id string) ([]byte, error)
	Info(id string) (ModelInfo, error)
}

type manifest struct {
	Models []ModelInfo `json:"models"`
}

// FSLoader serves models listed in a manifest from an fs.FS. Both an
// embed.FS and os.DirFS work.
type FSLoader struct {
	fsys   fs.FS
	models map[string]ModelInfo
	order  []string
}

// NewDirLoader reads ManifestName from dir.
func NewDirLoader(dir string) (*FSLoader, error) {
	if dir == "" {
		return nil, errors.New("model directory is required")
	}
	return NewFSLoader(os.DirFS(dir), ManifestName)
}

// NewFSLoader parses the manifest at manifestPath inside fsys. Filenames are
// resolved relative to the manifest's directory.
func NewFSLoader(fsys fs.FS, manifestPath string) (*FSLoader, error) {
	data, err := fs.ReadFile(fsys, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model manifest: %w", err)
	}

	if len(m.Models) == 0 {
		return nil, errors.New("model manifest has no models")
	}

	baseDir := path.Dir(manifestPath)
	l := &FSLoader{
		fsys:   fsys,
		models: make(map[string]ModelInfo, len(m.Models)),
		order:  make([]string, 0, len(m.Models)),
	}

	for _, mi := range m.Models {
		if mi.ID == "" {
			return nil, errors.New("manifest model has empty id")
		}

		if mi.Filename == "" {
			return nil, fmt.Errorf("manifest model %q has empty filename", mi.ID)
		}

		if _, exists := l.models[mi.ID]; exists {
			return nil, fmt.Errorf("duplicate model id %q in manifest", mi.ID)
		}

		if mi.SampleRate < 0 {
			return nil, fmt.Errorf("manifest model %q has negative sample_rate", mi.ID)
		}

		mi.Filename = path.Clean(path.Join(baseDir, mi.Filename))
		mi.Inputs = append([]NodeInfo(nil), mi.Inputs...)
		mi.Outputs = append([]NodeInfo(nil), mi.Outputs...)
		l.models[mi.ID] = mi
		l.order = append(l.order, mi.ID)

		slog.Debug(
			"registered packaged model",
			"id", mi.ID,
			"file", mi.Filename,
			"inputs", nodeNames(mi.Inputs),
			"outputs", nodeNames(mi.Outputs),
		)
	}

	return l, nil
}

// Info returns the manifest entry for id.
func (l *FSLoader) Info(id string) (ModelInfo, error) {
	mi, ok := l.models[id]
	if !ok {
		return ModelInfo{}, fmt.Errorf("model %q: %w", id, ErrResourceNotFound)
	}
	return mi, nil
}

// OpenModelBytes reads the blob for id. A missing manifest entry or a missing
// file both yield ErrResourceNotFound.
func (l *FSLoader) OpenModelBytes(id string) ([]byte, error) {
	mi, err := l.Info(id)
	if err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(l.fsys, mi.Filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("model %q (%s): %w", id, mi.Filename, ErrResourceNotFound)
		}
		return nil, fmt.Errorf("read model %q: %w", id, err)
	}

	return data, nil
}

// Models lists manifest entries in declaration order.
func (l *FSLoader) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.models[id])
	}
	return out
}

// Has reports whether the blob for id exists.
func (l *FSLoader) Has(id string) bool {
	mi, ok := l.models[id]
	if !ok {
		return false
	}
	_, err := fs.Stat(l.fsys, mi.Filename)
	return err == nil
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}
