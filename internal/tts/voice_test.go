package tts

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voice-assistant/internal/safetensors"
	"github.com/example/go-voice-assistant/internal/testutil"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()

	p := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestVoiceManager(t *testing.T) {
	dir := t.TempDir()
	manifest := testutil.WriteVoicePack(t, dir, 3, 4, "af_sky", "am_adam")

	vm, err := NewVoiceManager(manifest)
	if err != nil {
		t.Fatalf("NewVoiceManager: %v", err)
	}

	voices := vm.ListVoices()
	if len(voices) != 2 || voices[0].ID != "af_sky" || voices[1].ID != "am_adam" {
		t.Fatalf("ListVoices() = %+v", voices)
	}

	if !vm.Has("af_sky") || vm.Has("nope") {
		t.Error("Has() mismatch")
	}

	p, err := vm.ResolvePath("am_adam")
	if err != nil || p != filepath.Join(dir, "am_adam.bin") {
		t.Fatalf("ResolvePath = %q, %v", p, err)
	}

	if _, err := vm.ResolvePath("nope"); !errors.Is(err, ErrUnknownVoice) {
		t.Errorf("ResolvePath(nope) err = %v, want ErrUnknownVoice", err)
	}

	s1, err := vm.Style("af_sky")
	if err != nil {
		t.Fatalf("Style: %v", err)
	}
	if s1.Rows() != 3 || s1.Dim() != 4 {
		t.Fatalf("style rows=%d dim=%d", s1.Rows(), s1.Dim())
	}

	s2, _ := vm.Style("af_sky")
	if s1 != s2 {
		t.Error("expected cached style pack")
	}
}

func TestVoiceManagerDefaultsDim(t *testing.T) {
	dir := t.TempDir()
	vm, err := NewVoiceManager(writeManifest(t, dir, `{"voices":[{"id":"a","path":"a.bin"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := vm.ListVoices()[0].Dim; got != DefaultStyleDim {
		t.Errorf("Dim = %d, want %d", got, DefaultStyleDim)
	}
}

func TestVoiceManagerRejectsBadManifests(t *testing.T) {
	cases := map[string]string{
		"not json":  `{`,
		"empty id":  `{"voices":[{"id":"","path":"a.bin"}]}`,
		"no path":   `{"voices":[{"id":"a"}]}`,
		"duplicate": `{"voices":[{"id":"a","path":"a.bin"},{"id":"a","path":"b.bin"}]}`,
		"neg dim":   `{"voices":[{"id":"a","path":"a.bin","dim":-1}]}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewVoiceManager(writeManifest(t, t.TempDir(), body)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := NewVoiceManager(""); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := NewVoiceManager(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing manifest")
	}
}

func TestStyleMissingFile(t *testing.T) {
	dir := t.TempDir()
	vm, err := NewVoiceManager(writeManifest(t, dir, `{"voices":[{"id":"a","path":"a.bin","dim":4}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vm.Style("a"); err == nil {
		t.Error("expected error for missing pack")
	}
}

func TestLoadStyleSafetensors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.safetensors")

	data := make([]float32, 3*2)
	for i := range data {
		data[i] = float32(i)
	}
	if err := safetensors.WriteFile(path, []safetensors.Tensor{{Name: "af", Shape: []int64{3, 1, 2}, Data: data}}); err != nil {
		t.Fatal(err)
	}

	s, err := LoadStyle(path, 2)
	if err != nil {
		t.Fatalf("LoadStyle: %v", err)
	}
	if s.Rows() != 3 {
		t.Fatalf("Rows() = %d", s.Rows())
	}
	if row := s.Row(1); row[0] != 2 || row[1] != 3 {
		t.Errorf("Row(1) = %v", row)
	}

	if _, err := LoadStyle(path, 4); err == nil {
		t.Error("expected dim mismatch error")
	}
}

func TestLoadStyleBin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.bin")

	buf := make([]byte, 0, 6*4)
	for i := range 6 {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(i)))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadStyle(path, 3)
	if err != nil {
		t.Fatalf("LoadStyle: %v", err)
	}
	if s.Rows() != 2 || s.Row(1)[2] != 5 {
		t.Errorf("rows=%d row1=%v", s.Rows(), s.Row(1))
	}

	if _, err := LoadStyle(path, 4); err == nil {
		t.Error("expected error for non-multiple length")
	}

	if err := os.WriteFile(path, buf[:5], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStyle(path, 1); err == nil {
		t.Error("expected error for truncated float")
	}
}

func TestStyleRowClamps(t *testing.T) {
	s, err := NewStyle([]float32{0, 0, 1, 1, 2, 2}, 2)
	if err != nil {
		t.Fatal(err)
	}

	cases := map[int]float32{-1: 0, 0: 0, 1: 1, 2: 2, 3: 2, 500: 2}
	for n, want := range cases {
		if got := s.Row(n)[0]; got != want {
			t.Errorf("Row(%d)[0] = %v, want %v", n, got, want)
		}
	}

	if _, err := NewStyle(nil, 2); err == nil {
		t.Error("expected error for empty pack")
	}
	if _, err := NewStyle([]float32{1}, 0); err == nil {
		t.Error("expected error for zero dim")
	}
}
