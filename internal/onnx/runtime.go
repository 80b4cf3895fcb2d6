package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/example/go-voice-assistant/internal/config"
)

// ErrRuntimeNotFound reports that no ONNX Runtime library could be located.
var ErrRuntimeNotFound = errors.New("onnx runtime library not found")

// RuntimeInfo describes the ONNX Runtime shared library that will be loaded.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
	// Source names where LibraryPath came from: "config", an environment
	// variable name, or "search".
	Source string
}

var versionPattern = regexp.MustCompile(`(\d+\.\d+\.\d+)`)

var searchPaths = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"/usr/local/lib/libonnxruntime.dylib",
}

// DetectRuntime locates the ONNX Runtime library. An explicit config path
// wins over VOICEASSISTANT_ORT_LIB, which wins over ORT_LIBRARY_PATH; the
// well-known install locations are searched last. An explicitly named path
// that does not exist is an error, not a reason to keep searching.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	info := RuntimeInfo{Version: "unknown"}

	switch {
	case cfg.ORTLibraryPath != "":
		info.LibraryPath, info.Source = cfg.ORTLibraryPath, "config"
	case os.Getenv("VOICEASSISTANT_ORT_LIB") != "":
		info.LibraryPath, info.Source = os.Getenv("VOICEASSISTANT_ORT_LIB"), "VOICEASSISTANT_ORT_LIB"
	case os.Getenv("ORT_LIBRARY_PATH") != "":
		info.LibraryPath, info.Source = os.Getenv("ORT_LIBRARY_PATH"), "ORT_LIBRARY_PATH"
	default:
		for _, p := range searchPaths {
			if _, err := os.Stat(p); err == nil {
				info.LibraryPath, info.Source = p, "search"
				break
			}
		}
	}

	if info.LibraryPath == "" {
		info.LibraryPath = "not found"
		return info, ErrRuntimeNotFound
	}

	if _, err := os.Stat(info.LibraryPath); err != nil {
		return info, fmt.Errorf("%w: %s=%q: %w", ErrRuntimeNotFound, info.Source, info.LibraryPath, err)
	}

	for _, v := range []string{cfg.ORTVersion, os.Getenv("ORT_VERSION"), versionFromName(info.LibraryPath)} {
		if v != "" {
			info.Version = v
			break
		}
	}

	return info, nil
}

// versionFromName extracts x.y.z from names like libonnxruntime.so.1.23.2.
func versionFromName(path string) string {
	if m := versionPattern.FindStringSubmatch(filepath.Base(path)); len(m) == 2 {
		return m[1]
	}
	return ""
}
