// Package server exposes synthesis and the conversation loop over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/go-voice-assistant/internal/assistant"
	"github.com/example/go-voice-assistant/internal/audio"
	"github.com/example/go-voice-assistant/internal/onnx"
	"github.com/example/go-voice-assistant/internal/phoneme"
	"github.com/example/go-voice-assistant/internal/playback"
	"github.com/example/go-voice-assistant/internal/tts"
	"github.com/example/go-voice-assistant/internal/watch"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Synthesizer renders text to a waveform.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, speed float64) (audio.Waveform, error)
}

// VoiceLister returns the list of available voices.
type VoiceLister interface {
	ListVoices() []tts.Voice
}

// Assistant is the conversation loop served under /utterance and /status.
type Assistant interface {
	SubmitUtterance(text string) error
	State() assistant.TurnState
	Ready() *watch.Value[bool]
	StatusMessage() *watch.Value[string]
	Events() (<-chan assistant.StatusEvent, func())
}

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	streamFrames   int
	voice          string
	speed          float64
	assistant      Assistant
	metrics        http.Handler
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		workers:        2,
		requestTimeout: 60 * time.Second,
		streamFrames:   4096,
		voice:          "af_sky",
		speed:          1.0,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent synthesis calls.
// Zero disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithStreamFrames sets how many frames /tts/stream writes per flush.
func WithStreamFrames(n int) Option {
	return func(o *options) { o.streamFrames = n }
}

// WithDefaultVoice is used when a request names no voice or speed.
func WithDefaultVoice(id string, speed float64) Option {
	return func(o *options) {
		o.voice = id
		o.speed = speed
	}
}

// WithAssistant enables /utterance, /status and /status/stream.
func WithAssistant(a Assistant) Option {
	return func(o *options) { o.assistant = a }
}

// WithMetrics serves h under /metrics.
func WithMetrics(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type handler struct {
	synth  Synthesizer
	voices VoiceLister
	opts   options
	sem    chan struct{} // semaphore for worker pool
	log    *slog.Logger
}

// NewHandler returns an http.Handler serving /health, /voices, POST /tts and
// POST /tts/stream, plus the assistant and metrics routes when configured.
func NewHandler(synth Synthesizer, voices VoiceLister, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		synth:  synth,
		voices: voices,
		opts:   opts,
		log:    opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/voices", h.handleVoices)
	mux.HandleFunc("/tts", h.handleTTS)
	mux.HandleFunc("/tts/stream", h.handleTTSStream)
	if opts.assistant != nil {
		mux.HandleFunc("/utterance", h.handleUtterance)
		mux.HandleFunc("/status", h.handleStatus)
		mux.HandleFunc("/status/stream", h.handleStatusStream)
	}
	if opts.metrics != nil {
		mux.Handle("/metrics", opts.metrics)
	}
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": buildVersion(),
	}
	if a := h.opts.assistant; a != nil {
		body["ready"] = a.Ready().Get()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.voices.ListVoices()
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

type ttsRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// decodeTTS validates a synthesis request. It writes the error response
// itself and reports false on failure.
func (h *handler) decodeTTS(w http.ResponseWriter, r *http.Request) (ttsRequest, bool) {
	var req ttsRequest

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, false
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return req, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return req, false
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return req, false
	}

	if req.Voice == "" {
		req.Voice = h.opts.voice
	}
	if req.Speed == 0 {
		req.Speed = h.opts.speed
	}

	return req, true
}

// synthesize runs one request through the worker pool. On failure the
// response has been written.
func (h *handler) synthesize(w http.ResponseWriter, r *http.Request, req ttsRequest) (audio.Waveform, bool) {
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return audio.Waveform{}, false
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	wf, err := h.synth.Synthesize(ctx, req.Text, req.Voice, req.Speed)
	durationMS := time.Since(start).Milliseconds()

	attrs := []any{
		slog.String("voice", req.Voice),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
	}

	if err != nil {
		status, msg := synthesisStatus(err)
		attrs = append(attrs, slog.Int("status", status), slog.String("error", err.Error()))
		if status >= http.StatusInternalServerError {
			h.log.ErrorContext(r.Context(), "synthesis failed", attrs...)
		} else {
			h.log.WarnContext(r.Context(), "synthesis rejected", attrs...)
		}
		writeError(w, status, msg)
		return audio.Waveform{}, false
	}

	attrs = append(attrs, slog.Int("samples", len(wf.Samples)), slog.Int("sample_rate", wf.SampleRate))
	h.log.InfoContext(r.Context(), "synthesis complete", attrs...)

	return wf, true
}

// synthesisStatus maps synthesis failures to HTTP status codes.
func synthesisStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "synthesis timed out"
	case errors.Is(err, tts.ErrUnknownVoice), errors.Is(err, tts.ErrInvalidSpeed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, tts.ErrInputTooLong):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, phoneme.ErrPhonemization):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, onnx.ErrNotInitialized):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTTS(w, r)
	if !ok {
		return
	}

	wf, ok := h.synthesize(w, r, req)
	if !ok {
		return
	}

	wav, err := audio.EncodeWAV(wf)
	if err != nil {
		h.log.ErrorContext(r.Context(), "wav encode failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// handleTTSStream writes a streaming WAV: the header is sent first and PCM
// frames follow in flushed chunks.
func (h *handler) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTTS(w, r)
	if !ok {
		return
	}

	wf, ok := h.synthesize(w, r, req)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)

	out, err := playback.NewAdapter(
		playback.NewStream(newFlushWriter(w)),
		playback.WithChunkFrames(h.opts.streamFrames),
		playback.WithLogger(h.log),
	)
	if err != nil {
		h.log.ErrorContext(r.Context(), "stream setup failed", slog.String("error", err.Error()))
		return
	}
	defer out.Close()

	if err := out.Play(r.Context(), wf); err != nil {
		h.log.WarnContext(r.Context(), "stream aborted", slog.String("error", err.Error()))
	}
}

type utteranceRequest struct {
	Text string `json:"text"`
}

func (h *handler) handleUtterance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	err := h.opts.assistant.SubmitUtterance(req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, assistant.ErrEmptyUtterance):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, assistant.ErrNotInitialized), errors.Is(err, assistant.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.ErrorContext(r.Context(), "submit utterance failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type statusResponse struct {
	Ready     bool            `json:"ready"`
	Phase     assistant.Phase `json:"phase"`
	Message   string          `json:"message"`
	TurnID    string          `json:"turn_id,omitempty"`
	Utterance string          `json:"utterance,omitempty"`
	Response  string          `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a := h.opts.assistant
	st := a.State()

	resp := statusResponse{
		Ready:     a.Ready().Get(),
		Phase:     st.Phase,
		Message:   a.StatusMessage().Get(),
		TurnID:    st.TurnID,
		Utterance: st.Utterance,
		Response:  st.Response,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStatusStream sends every status event as a server-sent event until
// the client goes away or the assistant closes.
func (h *handler) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	events, cancel := h.opts.assistant.Events()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.log.WarnContext(r.Context(), "status stream unsupported", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				h.log.WarnContext(r.Context(), "encode status event", slog.String("error", err.Error()))
				continue
			}

			if _, err := fmt.Fprintf(w, "id: %d\nevent: status\ndata: %s\n\n", ev.Seq, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// flushWriter pushes every write to the client.
type flushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	return &flushWriter{w: w, rc: http.NewResponseController(w)}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}

func (f *flushWriter) Sync() error {
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Server wires a handler into a net/http.Server with graceful shutdown.
type Server struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func New(addr string, h http.Handler) *Server {
	return &Server{
		addr:            addr,
		handler:         h,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.Default(),
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) WithLogger(l *slog.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	return s
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("http server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks the /health endpoint of a running server.
func ProbeHTTP(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
