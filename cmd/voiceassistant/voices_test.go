package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-voice-assistant/internal/config"
	"github.com/example/go-voice-assistant/internal/testutil"
)

func TestVoicesCommandListsManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := testutil.WriteVoicePack(t, dir, 4, 8, "af_sky", "am_adam")

	var out bytes.Buffer

	root := NewRootCmd()
	root.SetArgs([]string{"voices", "--voice-manifest", manifest})
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})

	if err := root.Execute(); err != nil {
		t.Fatalf("voices: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 voices, got %q", out.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "af_sky") || !strings.HasPrefix(lines[2], "am_adam") {
		t.Errorf("voice rows = %q", lines[1:])
	}
}

func TestCollectVoiceFiles(t *testing.T) {
	if files := collectVoiceFiles(filepath.Join(t.TempDir(), "manifest.json")); len(files) != 0 {
		t.Errorf("expected no files without manifest, got %v", files)
	}

	dir := t.TempDir()
	manifest := testutil.WriteVoicePack(t, dir, 2, 4, "af_sky")

	files := collectVoiceFiles(manifest)
	if len(files) != 1 {
		t.Fatalf("expected 1 voice file, got %v", files)
	}
	if !filepath.IsAbs(files[0]) {
		t.Errorf("expected absolute path, got %q", files[0])
	}
	if filepath.Base(files[0]) != "af_sky.bin" || filepath.Dir(files[0]) != dir {
		t.Errorf("voice file resolved to %q", files[0])
	}
}

func TestBuildDoctorConfigOptionalChecks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.VoiceManifest = testutil.WriteVoicePack(t, t.TempDir(), 2, 4, "af_sky")

	d := buildDoctorConfig(cfg, quietLogger(), true, false)
	if d.LanguageModel != nil {
		t.Error("LanguageModel check should be skipped with skipLLM")
	}
	if d.Smoke != nil {
		t.Error("Smoke check should be off by default")
	}
	if d.Phonemizer == nil || d.ORTLibrary == nil || d.Models == nil {
		t.Error("core checks must be set")
	}
	if len(d.RequiredModels) != 1 || d.RequiredModels[0] != cfg.TTS.ModelID {
		t.Errorf("RequiredModels = %v", d.RequiredModels)
	}

	d = buildDoctorConfig(cfg, quietLogger(), false, true)
	if d.LanguageModel == nil || d.Smoke == nil {
		t.Error("LanguageModel and Smoke checks should be set")
	}

	detail, err := buildDoctorConfig(cfg, quietLogger(), true, false).Phonemizer(t.Context())
	if err != nil {
		t.Fatalf("phonemizer check: %v", err)
	}
	if detail == "" || detail == `""` {
		t.Errorf("phonemizer detail = %q", detail)
	}
}
