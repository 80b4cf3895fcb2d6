// Package testutil provides shared skip helpers, fakes and fixtures for
// tests.
//
// Each Require helper calls Skipf with a clear reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    testutil.RequireVoiceFile(t, "af_sky")
//	    ...
//	}
package testutil

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the VOICEASSISTANT_ORT_LIB env var, then
// ORT_LIBRARY_PATH, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"VOICEASSISTANT_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return
		}
	}

	tb.Skipf("ONNX Runtime shared library not found; set VOICEASSISTANT_ORT_LIB or ORT_LIBRARY_PATH")
}

// RequireModelDir skips the test unless VOICEASSISTANT_MODEL_DIR names a
// directory containing models.json. It returns the directory.
func RequireModelDir(tb testing.TB) string {
	tb.Helper()

	dir := os.Getenv("VOICEASSISTANT_MODEL_DIR")
	if dir == "" {
		tb.Skipf("VOICEASSISTANT_MODEL_DIR not set")
		return ""
	}

	if _, err := os.Stat(filepath.Join(dir, "models.json")); err != nil {
		tb.Skipf("model manifest not available in %q: %v", dir, err)
		return ""
	}

	return dir
}

// RequireEspeak skips the test if espeak-ng is not in PATH.
func RequireEspeak(tb testing.TB) {
	tb.Helper()

	if _, err := exec.LookPath("espeak-ng"); err != nil {
		tb.Skipf("espeak-ng not available in PATH")
	}
}

// RequireVoiceFile skips the test if the voice identified by id cannot be
// resolved from voices/manifest.json relative to the current working directory.
func RequireVoiceFile(tb testing.TB, id string) {
	tb.Helper()

	manifestPath := filepath.Join("voices", "manifest.json")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		tb.Skipf("voice manifest not available at %q: %v", manifestPath, err)
		return
	}

	var manifest struct {
		Voices []struct {
			ID   string `json:"id"`
			Path string `json:"path"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		tb.Skipf("voice manifest %q unreadable: %v", manifestPath, err)
		return
	}

	for _, v := range manifest.Voices {
		if v.ID != id {
			continue
		}

		p := v.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(manifestPath), p)
		}

		if _, err := os.Stat(p); err != nil {
			tb.Skipf("voice %q not available: %v", id, err)
		}

		return
	}

	tb.Skipf("voice %q not listed in %q", id, manifestPath)
}
