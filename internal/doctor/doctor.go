// Package doctor provides environment preflight checks for the assistant.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// CheckFunc runs a live check and returns a short detail for the report.
type CheckFunc func(ctx context.Context) (string, error)

// Config holds injectable dependencies for each doctor check. Nil checks
// are reported as skipped.
type Config struct {
	// ORTLibrary returns the path and version of the ONNX Runtime library.
	ORTLibrary func() (path, version string, err error)
	// APIVersion is the ONNX Runtime C API version the binding requests.
	// The library's minor version must be at least this.
	APIVersion int
	// Models returns the model ids listed in the model manifest.
	Models func() ([]string, error)
	// RequiredModels must all be present in the manifest.
	RequiredModels []string
	// VoiceFiles is the list of voice file paths to verify on disk.
	VoiceFiles []string
	Phonemizer CheckFunc
	// LanguageModel probes the language model endpoint.
	LanguageModel CheckFunc
	// Smoke runs one inference pass.
	Smoke CheckFunc
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(ctx context.Context, cfg Config, w io.Writer) Result {
	var res Result

	if cfg.ORTLibrary == nil {
		fmt.Fprintf(w, "%s onnxruntime library: skipped\n", PassMark)
	} else {
		path, ver, err := cfg.ORTLibrary()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("onnxruntime library: %v", err))
			fmt.Fprintf(w, "%s onnxruntime library: not found (%v)\n", FailMark, err)
		case ver == "":
			fmt.Fprintf(w, "%s onnxruntime library: %s (version unknown)\n", PassMark, path)
		default:
			if verErr := checkORTVersion(ver, cfg.APIVersion); verErr != nil {
				res.fail(fmt.Sprintf("onnxruntime version: %v", verErr))
				fmt.Fprintf(w, "%s onnxruntime %s: %v\n", FailMark, ver, verErr)
			} else {
				fmt.Fprintf(w, "%s onnxruntime library: %s (%s)\n", PassMark, path, ver)
			}
		}
	}

	if cfg.Models == nil {
		fmt.Fprintf(w, "%s model manifest: skipped\n", PassMark)
	} else {
		ids, err := cfg.Models()
		if err != nil {
			res.fail(fmt.Sprintf("model manifest: %v", err))
			fmt.Fprintf(w, "%s model manifest: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s model manifest: %s\n", PassMark, strings.Join(ids, ", "))
			for _, id := range missing(cfg.RequiredModels, ids) {
				res.fail(fmt.Sprintf("model %q: not in manifest", id))
				fmt.Fprintf(w, "%s model %s: not in manifest\n", FailMark, id)
			}
		}
	}

	for _, path := range cfg.VoiceFiles {
		if _, err := os.Stat(path); err != nil {
			res.fail(fmt.Sprintf("voice file %q: %v", path, err))
			fmt.Fprintf(w, "%s voice file %s: not found\n", FailMark, path)
		} else {
			fmt.Fprintf(w, "%s voice file: %s\n", PassMark, path)
		}
	}

	runCheck(ctx, &res, w, "phonemizer", cfg.Phonemizer)
	runCheck(ctx, &res, w, "language model", cfg.LanguageModel)
	runCheck(ctx, &res, w, "inference smoke test", cfg.Smoke)

	return res
}

func runCheck(ctx context.Context, res *Result, w io.Writer, name string, fn CheckFunc) {
	if fn == nil {
		fmt.Fprintf(w, "%s %s: skipped\n", PassMark, name)
		return
	}

	detail, err := fn(ctx)
	if err != nil {
		res.fail(fmt.Sprintf("%s: %v", name, err))
		fmt.Fprintf(w, "%s %s: %v\n", FailMark, name, err)
		return
	}

	fmt.Fprintf(w, "%s %s: %s\n", PassMark, name, detail)
}

func missing(want, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, id := range have {
		set[id] = true
	}

	var out []string
	for _, id := range want {
		if !set[id] {
			out = append(out, id)
		}
	}
	return out
}

// checkORTVersion returns an error unless ver is a 1.x release whose minor
// version provides the requested C API.
func checkORTVersion(ver string, apiVersion int) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires onnxruntime 1.x, got %d", major)
	}
	if apiVersion > 0 && minor < apiVersion {
		return fmt.Errorf("C API version %d requires onnxruntime >=1.%d, got 1.%d", apiVersion, apiVersion, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
