package playback

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-voice-assistant/internal/audio"
	"github.com/example/go-voice-assistant/internal/testutil"
)

func waveform(t *testing.T, n, rate int) audio.Waveform {
	t.Helper()

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(i%7) / 7
	}

	wf, err := audio.NewWaveform(samples, rate)
	if err != nil {
		t.Fatal(err)
	}
	return wf
}

// recorder records device lifecycle calls. The first block devices never
// complete a write until their context ends.
type recorder struct {
	mu      sync.Mutex
	formats []Format
	frames  []byte
	block   int
	open    atomic.Int32
	maxOpen atomic.Int32
	closes  atomic.Int32
	failOp  string
}

func (r *recorder) Open(_ context.Context, f Format) (Device, error) {
	if r.failOp == "open" {
		return nil, errors.New("no device")
	}

	dev := &recDevice{r: r}

	r.mu.Lock()
	r.formats = append(r.formats, f)
	if r.block > 0 {
		r.block--
		dev.hang = true
	}
	r.mu.Unlock()

	n := r.open.Add(1)
	for {
		m := r.maxOpen.Load()
		if n <= m || r.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}

	return dev, nil
}

type recDevice struct {
	r    *recorder
	hang bool
}

func (d *recDevice) Write(ctx context.Context, frames []byte) error {
	if d.r.failOp == "write" {
		return errors.New("write failed")
	}

	if d.hang {
		<-ctx.Done()
		return ctx.Err()
	}

	d.r.mu.Lock()
	d.r.frames = append(d.r.frames, frames...)
	d.r.mu.Unlock()
	return nil
}

func (d *recDevice) Drain(ctx context.Context) error {
	if d.r.failOp == "drain" {
		return errors.New("drain failed")
	}
	return ctx.Err()
}

func (d *recDevice) Close() error {
	d.r.open.Add(-1)
	d.r.closes.Add(1)
	return nil
}

func TestPlayWritesEveryFrameAtNativeRate(t *testing.T) {
	for _, chunk := range []int{0, 1, 100, 1000, 5000} {
		rec := &recorder{}
		a, err := NewAdapter(rec, WithChunkFrames(chunk))
		if err != nil {
			t.Fatal(err)
		}

		wf := waveform(t, 2401, 22050)
		p, err := a.Start(context.Background(), wf)
		if err != nil {
			t.Fatalf("chunk %d: Start: %v", chunk, err)
		}
		<-p.Done()

		if err := p.Err(); err != nil {
			t.Fatalf("chunk %d: %v", chunk, err)
		}
		if p.Frames() != len(wf.Samples) || p.Total() != len(wf.Samples) {
			t.Errorf("chunk %d: frames=%d total=%d, want %d", chunk, p.Frames(), p.Total(), len(wf.Samples))
		}
		if got := len(rec.frames) / 2; got != len(wf.Samples) {
			t.Errorf("chunk %d: device got %d frames", chunk, got)
		}
		if f := rec.formats[0]; f.SampleRate != 22050 || f.Channels != 1 || f.Encoding != EncodingPCM16 {
			t.Errorf("chunk %d: format = %+v", chunk, f)
		}
		if rec.closes.Load() != 1 {
			t.Errorf("chunk %d: closes = %d", chunk, rec.closes.Load())
		}
	}
}

func TestPlayPCM16Conversion(t *testing.T) {
	rec := &recorder{}
	a, _ := NewAdapter(rec)

	wf, _ := audio.NewWaveform([]float32{0, 1, -1, 0.5, 2}, 24000)
	if err := a.Play(context.Background(), wf); err != nil {
		t.Fatal(err)
	}

	got := audio.PCM16FromBytes(rec.frames)
	want := []int16{0, 32767, -32767, 16384, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pcm = %v, want %v", got, want)
		}
	}
}

func TestPlayFloat32Passthrough(t *testing.T) {
	rec := &recorder{}
	a, err := NewAdapter(rec, WithEncoding(EncodingFloat32))
	if err != nil {
		t.Fatal(err)
	}

	wf, _ := audio.NewWaveform([]float32{0.25, -0.75, 3}, 16000)
	if err := a.Play(context.Background(), wf); err != nil {
		t.Fatal(err)
	}

	got := audio.Float32FromBytes(rec.frames)
	want := []float32{0.25, -0.75, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("f32 = %v, want %v", got, want)
		}
	}
	if rec.formats[0].Encoding != EncodingFloat32 {
		t.Errorf("encoding = %q", rec.formats[0].Encoding)
	}
}

func TestStartStopsPreviousPlayback(t *testing.T) {
	rec := &recorder{block: 1}
	a, _ := NewAdapter(rec, WithChunkFrames(10))

	first, err := a.Start(context.Background(), waveform(t, 100, 24000))
	if err != nil {
		t.Fatal(err)
	}

	second, err := a.Start(context.Background(), waveform(t, 50, 24000))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-first.Done():
	default:
		t.Fatal("first playback not released before the second started")
	}
	if !errors.Is(first.Err(), ErrStopped) {
		t.Errorf("first.Err() = %v, want ErrStopped", first.Err())
	}

	<-second.Done()
	if second.Err() != nil {
		t.Errorf("second.Err() = %v", second.Err())
	}
	if rec.maxOpen.Load() != 1 {
		t.Errorf("max concurrently open devices = %d, want 1", rec.maxOpen.Load())
	}
	if rec.closes.Load() != 2 {
		t.Errorf("closes = %d, want 2", rec.closes.Load())
	}
}

func TestPlayHonoursContext(t *testing.T) {
	rec := &recorder{block: 1}
	a, _ := NewAdapter(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := a.Play(ctx, waveform(t, 10, 24000))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if rec.closes.Load() != 1 {
		t.Errorf("device not released: closes = %d", rec.closes.Load())
	}
}

func TestDeviceErrors(t *testing.T) {
	for _, op := range []string{"open", "write", "drain"} {
		rec := &recorder{failOp: op}
		a, _ := NewAdapter(rec)

		err := a.Play(context.Background(), waveform(t, 10, 24000))

		var de *DeviceError
		if !errors.As(err, &de) || de.Op != op {
			t.Errorf("%s: err = %v, want DeviceError{Op:%q}", op, err, op)
		}
		if op != "open" && rec.closes.Load() != 1 {
			t.Errorf("%s: device not released", op)
		}
	}
}

func TestStartRejectsInvalidWaveform(t *testing.T) {
	a, _ := NewAdapter(&recorder{})
	if _, err := a.Start(context.Background(), audio.Waveform{Samples: []float32{0}, Channels: 1}); !errors.Is(err, audio.ErrInvalidWaveform) {
		t.Errorf("err = %v, want ErrInvalidWaveform", err)
	}
}

func TestCloseStopsAndRejects(t *testing.T) {
	rec := &recorder{block: 1}
	a, _ := NewAdapter(rec)

	p, err := a.Start(context.Background(), waveform(t, 10, 24000))
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(p.Err(), ErrStopped) {
		t.Errorf("Err() = %v, want ErrStopped", p.Err())
	}

	var de *DeviceError
	if _, err := a.Start(context.Background(), waveform(t, 10, 24000)); !errors.As(err, &de) {
		t.Errorf("Start after Close err = %v", err)
	}
}

func TestNewAdapterValidation(t *testing.T) {
	if _, err := NewAdapter(nil); err == nil {
		t.Error("expected error for nil opener")
	}
	if _, err := NewAdapter(&Discard{}, WithEncoding("s24")); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestDiscard(t *testing.T) {
	d := &Discard{}
	a, _ := NewAdapter(d, WithChunkFrames(64))

	for range 3 {
		if err := a.Play(context.Background(), waveform(t, 1000, 24000)); err != nil {
			t.Fatal(err)
		}
	}
	if d.Frames() != 3000 || d.Opens() != 3 {
		t.Errorf("frames=%d opens=%d", d.Frames(), d.Opens())
	}
}

func TestWAVWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := NewWAVWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := NewAdapter(w, WithChunkFrames(100))

	wf := waveform(t, 480, 16000)
	if err := a.Play(context.Background(), wf); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(w.LastPath())
	if err != nil {
		t.Fatalf("read %q: %v", w.LastPath(), err)
	}
	testutil.AssertValidWAV(t, data, 16000)

	got, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Samples) != len(wf.Samples) {
		t.Fatalf("decoded %d samples, want %d", len(got.Samples), len(wf.Samples))
	}
	for i := range wf.Samples {
		if d := got.Samples[i] - wf.Samples[i]; d > 3.0/32768 || d < -3.0/32768 {
			t.Fatalf("sample %d: %v vs %v", i, got.Samples[i], wf.Samples[i])
		}
	}
}

func TestStream(t *testing.T) {
	var buf bytes.Buffer
	a, _ := NewAdapter(NewStream(&buf))

	if err := a.Play(context.Background(), waveform(t, 10, 24000)); err != nil {
		t.Fatal(err)
	}

	if buf.Len() != 44+20 {
		t.Fatalf("stream length = %d, want 64", buf.Len())
	}
	if string(buf.Bytes()[0:4]) != "RIFF" {
		t.Error("missing RIFF header")
	}

	f32, _ := NewAdapter(NewStream(&buf), WithEncoding(EncodingFloat32))
	var de *DeviceError
	if err := f32.Play(context.Background(), waveform(t, 10, 24000)); !errors.As(err, &de) {
		t.Errorf("float32 stream err = %v, want DeviceError", err)
	}
}
