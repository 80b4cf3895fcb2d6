package onnx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voice-assistant/internal/config"
)

func fakeLib(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("not really a library"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDetectRuntimeSources(t *testing.T) {
	cfgLib := fakeLib(t, "libonnxruntime.so.1.23.2")
	envLib := fakeLib(t, "libonnxruntime.so")
	missing := filepath.Join(t.TempDir(), "gone.so")

	cases := []struct {
		name        string
		cfg         config.RuntimeConfig
		env         map[string]string
		wantPath    string
		wantSource  string
		wantVersion string
	}{
		{
			name:        "config wins and version comes from file name",
			cfg:         config.RuntimeConfig{ORTLibraryPath: cfgLib},
			env:         map[string]string{"VOICEASSISTANT_ORT_LIB": missing},
			wantPath:    cfgLib,
			wantSource:  "config",
			wantVersion: "1.23.2",
		},
		{
			name:        "project variable before generic one",
			env:         map[string]string{"VOICEASSISTANT_ORT_LIB": envLib, "ORT_LIBRARY_PATH": missing, "ORT_VERSION": "1.22.0"},
			wantPath:    envLib,
			wantSource:  "VOICEASSISTANT_ORT_LIB",
			wantVersion: "1.22.0",
		},
		{
			name:        "generic variable",
			env:         map[string]string{"ORT_LIBRARY_PATH": envLib},
			wantPath:    envLib,
			wantSource:  "ORT_LIBRARY_PATH",
			wantVersion: "unknown",
		},
		{
			name:        "config version beats environment",
			cfg:         config.RuntimeConfig{ORTLibraryPath: envLib, ORTVersion: "1.21.0"},
			env:         map[string]string{"ORT_VERSION": "1.22.0"},
			wantPath:    envLib,
			wantSource:  "config",
			wantVersion: "1.21.0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"VOICEASSISTANT_ORT_LIB", "ORT_LIBRARY_PATH", "ORT_VERSION"} {
				t.Setenv(k, tc.env[k])
			}

			info, err := DetectRuntime(tc.cfg)
			if err != nil {
				t.Fatalf("DetectRuntime: %v", err)
			}
			if info.LibraryPath != tc.wantPath || info.Source != tc.wantSource || info.Version != tc.wantVersion {
				t.Errorf("got %+v, want path=%q source=%q version=%q", info, tc.wantPath, tc.wantSource, tc.wantVersion)
			}
		})
	}
}

func TestDetectRuntimeExplicitPathMissing(t *testing.T) {
	t.Setenv("VOICEASSISTANT_ORT_LIB", "")
	t.Setenv("ORT_LIBRARY_PATH", "")

	missing := filepath.Join(t.TempDir(), "nope.so")
	info, err := DetectRuntime(config.RuntimeConfig{ORTLibraryPath: missing})
	if !errors.Is(err, ErrRuntimeNotFound) {
		t.Fatalf("err = %v, want ErrRuntimeNotFound", err)
	}
	if info.LibraryPath != missing {
		t.Errorf("LibraryPath = %q, want the configured path for diagnostics", info.LibraryPath)
	}
}

func TestVersionFromName(t *testing.T) {
	cases := []struct{ path, want string }{
		{"/usr/lib/libonnxruntime.so.1.20.1", "1.20.1"},
		{"/opt/libonnxruntime.1.19.0.dylib", "1.19.0"},
		{"/usr/lib/libonnxruntime.so", ""},
		{"/opt/ort-1.18.0/lib/libonnxruntime.so", ""},
	}
	for _, c := range cases {
		if got := versionFromName(c.path); got != c.want {
			t.Errorf("versionFromName(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}
