// Package assistant runs conversation turns: a transcribed utterance is sent
// to the language model, the reply is synthesized and played back, and every
// phase change is published to presentation streams.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/example/go-voice-assistant/internal/audio"
	"github.com/example/go-voice-assistant/internal/llm"
	"github.com/example/go-voice-assistant/internal/phoneme"
	"github.com/example/go-voice-assistant/internal/watch"
)

// Initializer loads inference sessions.
type Initializer interface {
	Initialize(ctx context.Context) error
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, speed float64) (audio.Waveform, error)
}

type Player interface {
	Play(ctx context.Context, wf audio.Waveform) error
}

// Orchestrator serializes conversation turns on one goroutine. While a turn
// is active, one further utterance may wait; a newer utterance replaces it.
type Orchestrator struct {
	model    llm.Model
	sessions Initializer
	synth    Synthesizer
	player   Player

	voice     string
	speed     float64
	logger    *slog.Logger
	observers []func(StatusEvent)
	now       func() time.Time

	turns    metric.Int64Counter
	duration metric.Float64Histogram

	ready    *watch.Value[bool]
	busy     *watch.Value[bool]
	status   *watch.Value[string]
	response *watch.Value[string]
	lastErr  *watch.Value[error]
	events   *watch.Feed[StatusEvent]

	initMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	closed      bool
	pending     *pendingTurn

	// emitMu orders events and guards state.
	emitMu sync.Mutex
	seq    uint64
	state  TurnState

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

type pendingTurn struct {
	id   string
	text string
}

type Option func(*Orchestrator)

// WithVoice sets the voice and speed used for replies.
func WithVoice(id string, speed float64) Option {
	return func(o *Orchestrator) {
		o.voice = id
		o.speed = speed
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers fn for every status event. Observers run
// synchronously and in order on the publishing goroutine; they must not
// block or call back into the orchestrator.
func WithObserver(fn func(StatusEvent)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithMeter sets the meter for turn metrics.
func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.initMetrics(m)
		}
	}
}

func New(model llm.Model, sessions Initializer, synth Synthesizer, player Player, opts ...Option) (*Orchestrator, error) {
	if model == nil || sessions == nil || synth == nil || player == nil {
		return nil, errors.New("assistant: model, sessions, synthesizer and player are required")
	}

	o := &Orchestrator{
		model:    model,
		sessions: sessions,
		synth:    synth,
		player:   player,
		voice:    "af_sky",
		speed:    1.0,
		logger:   slog.Default(),
		now:      time.Now,
		ready:    watch.NewValue(false),
		busy:     watch.NewValue(false),
		status:   watch.NewValue(msgNotInitialized),
		response: watch.NewValue(""),
		lastErr:  watch.NewValue[error](nil),
		events:   watch.NewFeed[StatusEvent](0),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	o.initMetrics(meter)

	for _, opt := range opts {
		opt(o)
	}

	go o.loop()

	return o, nil
}

func (o *Orchestrator) initMetrics(m metric.Meter) {
	o.turns, _ = m.Int64Counter(
		"assistant.turns",
		metric.WithDescription("Completed conversation turns by outcome"),
	)
	o.duration, _ = m.Float64Histogram(
		"assistant.turn.duration",
		metric.WithDescription("Wall time of a conversation turn"),
		metric.WithUnit("s"),
	)
}

// Ready reports whether initialization succeeded.
func (o *Orchestrator) Ready() *watch.Value[bool] { return o.ready }

// StatusMessage is the user-facing status line.
func (o *Orchestrator) StatusMessage() *watch.Value[string] { return o.status }

// LastResponse is the text of the latest reply. It is cleared when a new
// turn starts thinking.
func (o *Orchestrator) LastResponse() *watch.Value[string] { return o.response }

func (o *Orchestrator) LastError() *watch.Value[error] { return o.lastErr }

// Events subscribes to every status event in order.
func (o *Orchestrator) Events() (<-chan StatusEvent, func()) { return o.events.Subscribe() }

// State returns a snapshot of the current turn.
func (o *Orchestrator) State() TurnState {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	return o.state
}

// Wait blocks until no turn is running or pending.
func (o *Orchestrator) Wait(ctx context.Context) error {
	ch, cancel := o.busy.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case busy, ok := <-ch:
			if !ok || !busy {
				return nil
			}
		}
	}
}

// Initialize loads the language model and the speech sessions concurrently.
// It returns nil at once after a success. After a failure the phase stays
// Error until Initialize is called again.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.initialized:
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	ctx, span := tracer.Start(ctx, "initialize")
	defer span.End()

	o.emit(StatusEvent{Phase: Initializing, Message: msgInitializing})

	start := o.now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := o.model.Initialize(gctx); err != nil {
			return fmt.Errorf("language model: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := o.sessions.Initialize(gctx); err != nil {
			return fmt.Errorf("speech model: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		o.lastErr.Set(err)
		o.emit(StatusEvent{Phase: Error, Message: "Init Error: " + err.Error(), Err: err})
		o.logger.Error("initialization failed", slog.Any("error", err))

		return err
	}

	o.mu.Lock()
	o.initialized = true
	o.mu.Unlock()

	o.ready.Set(true)
	o.emit(StatusEvent{Phase: Ready, Message: msgReady})
	o.logger.Info("assistant ready", slog.Duration("elapsed", o.now().Sub(start)))

	return nil
}

// SubmitUtterance queues text for the turn loop and returns at once.
func (o *Orchestrator) SubmitUtterance(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyUtterance
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}

	if !o.initialized {
		return ErrNotInitialized
	}

	if o.pending != nil {
		o.logger.Info("superseded pending utterance", slog.String("turn_id", o.pending.id))
	}
	o.pending = &pendingTurn{id: uuid.NewString(), text: text}
	o.busy.Set(true)

	select {
	case o.wake <- struct{}{}:
	default:
	}

	return nil
}

// Close waits for the active turn, stops the loop and releases the player.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return nil
	}
	o.closed = true
	o.pending = nil
	o.mu.Unlock()

	close(o.stop)
	<-o.done

	o.ready.Set(false)
	o.ready.Close()
	o.busy.Set(false)
	o.busy.Close()
	o.status.Close()
	o.response.Close()
	o.lastErr.Close()
	o.events.Close()

	if c, ok := o.player.(interface{ Close() error }); ok {
		return c.Close()
	}

	return nil
}

func (o *Orchestrator) loop() {
	defer close(o.done)

	for {
		select {
		case <-o.stop:
			return
		case <-o.wake:
		}

		for {
			select {
			case <-o.stop:
				return
			default:
			}

			o.mu.Lock()
			next := o.pending
			o.pending = nil
			if next == nil {
				o.busy.Set(false)
			}
			o.mu.Unlock()

			if next == nil {
				break
			}

			o.runTurn(context.Background(), next)
		}
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, t *pendingTurn) {
	ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(attribute.String("turn_id", t.id)))
	defer span.End()

	start := o.now()
	outcome := "ok"

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("turn panicked: %v", r)
			o.fail(t, "Error", err)
			outcome = "panic"
		}

		if outcome != "ok" {
			span.SetStatus(codes.Error, outcome)
		}

		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		o.turns.Add(ctx, 1, attrs)
		o.duration.Record(ctx, o.now().Sub(start).Seconds(), attrs)
	}()

	log := o.logger.With(slog.String("turn_id", t.id))
	log.Info("turn started", slog.Int("utterance_len", len(t.text)))

	o.response.Set("")
	o.emit(StatusEvent{TurnID: t.id, Phase: Thinking, Message: msgThinking, Utterance: t.text})

	reply, err := o.model.Ask(ctx, t.text)
	if err != nil {
		outcome = "inference_error"
		o.fail(t, "LM Error", err)
		return
	}

	if strings.TrimSpace(reply) == "" {
		outcome = "empty_reply"
		o.fail(t, "TTS Error", fmt.Errorf("%w: empty reply", phoneme.ErrPhonemization))
		return
	}

	o.response.Set(reply)
	o.emit(StatusEvent{TurnID: t.id, Phase: Speaking, Message: msgSpeaking, Response: reply})

	wf, err := o.synth.Synthesize(ctx, reply, o.voice, o.speed)
	if err != nil {
		outcome = "synthesis_error"
		o.fail(t, "TTS Error", err)
		return
	}

	if err := o.player.Play(ctx, wf); err != nil {
		outcome = "playback_error"
		o.fail(t, "Playback Error", err)
		return
	}

	o.emit(StatusEvent{TurnID: t.id, Phase: Ready, Message: msgReady, Response: reply})
	log.Info(
		"turn finished",
		slog.Int("samples", len(wf.Samples)),
		slog.Int("sample_rate", wf.SampleRate),
		slog.Duration("elapsed", o.now().Sub(start)),
	)
}

// fail publishes the error and returns to Ready. The reply text, if any,
// stays visible.
func (o *Orchestrator) fail(t *pendingTurn, prefix string, err error) {
	o.logger.Warn("turn failed", slog.String("turn_id", t.id), slog.Any("error", err))

	resp := o.response.Get()

	o.lastErr.Set(err)
	o.emit(StatusEvent{TurnID: t.id, Phase: Error, Message: prefix + ": " + err.Error(), Response: resp, Err: err})
	o.emit(StatusEvent{TurnID: t.id, Phase: Ready, Message: msgReady, Response: resp})
}

// emit stamps ev, updates the turn state and the status stream, and
// delivers ev to observers and subscribers in order.
func (o *Orchestrator) emit(ev StatusEvent) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.seq++
	ev.Seq = o.seq
	ev.At = o.now()

	switch ev.Phase {
	case Thinking:
		o.state = TurnState{Phase: Thinking, TurnID: ev.TurnID, Utterance: ev.Utterance}
	default:
		o.state.Phase = ev.Phase
		o.state.Response = ev.Response
		if ev.TurnID != "" {
			o.state.TurnID = ev.TurnID
		}
		if ev.Err != nil {
			o.state.Err = ev.Err
		}
	}

	o.status.Set(ev.Message)

	for _, fn := range o.observers {
		fn(ev)
	}

	o.events.Publish(ev)
}
