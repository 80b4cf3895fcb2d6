package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/go-voice-assistant/internal/assistant"
)

func startServer(t *testing.T) *Embedded {
	t.Helper()

	e, err := StartEmbedded("127.0.0.1", -1, nil)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(e.Shutdown)

	return e
}

func connect(t *testing.T, url, prefix string) *Client {
	t.Helper()

	c, err := Connect(context.Background(), Config{URL: url, SubjectPrefix: prefix}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)

	return c
}

func rawConn(t *testing.T, url string) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)

	return nc
}

type recordingSubmitter struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingSubmitter) SubmitUtterance(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSubmitter) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestSubjects(t *testing.T) {
	e := startServer(t)
	c := connect(t, e.URL(), ".kitchen.")

	if got := c.StatusSubject(); got != "kitchen.status" {
		t.Errorf("StatusSubject = %q", got)
	}
	if got := c.UtteranceSubject(); got != "kitchen.utterance" {
		t.Errorf("UtteranceSubject = %q", got)
	}
	if !c.Healthy() {
		t.Error("Healthy() = false")
	}
}

func TestForwardPublishesEventsInOrder(t *testing.T) {
	e := startServer(t)
	c := connect(t, e.URL(), "")

	nc := rawConn(t, e.URL())
	msgs := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("assistant.status", msgs)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	events := make(chan assistant.StatusEvent, 3)
	events <- assistant.StatusEvent{Seq: 1, Phase: assistant.Thinking, Message: "Thinking...", Utterance: "hi"}
	events <- assistant.StatusEvent{Seq: 2, Phase: assistant.Speaking, Message: "Speaking...", Response: "hello"}
	events <- assistant.StatusEvent{Seq: 3, Phase: assistant.Ready, Message: "Ready", Response: "hello"}
	close(events)

	c.Forward(context.Background(), events)

	for want := uint64(1); want <= 3; want++ {
		select {
		case msg := <-msgs:
			var got struct {
				Seq   uint64 `json:"seq"`
				Phase string `json:"phase"`
			}
			if err := json.Unmarshal(msg.Data, &got); err != nil {
				t.Fatal(err)
			}
			if got.Seq != want {
				t.Fatalf("seq = %d, want %d", got.Seq, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for seq %d", want)
		}
	}
}

func TestServeUtterances(t *testing.T) {
	e := startServer(t)
	c := connect(t, e.URL(), "")

	sub := &recordingSubmitter{}
	if err := c.ServeUtterances(sub); err != nil {
		t.Fatal(err)
	}

	nc := rawConn(t, e.URL())
	msg, err := nc.Request("assistant.utterance", []byte("what time is it"), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatal(err)
	}
	if !reply.Accepted || reply.Error != "" {
		t.Errorf("reply = %+v", reply)
	}
	if got := sub.submitted(); len(got) != 1 || got[0] != "what time is it" {
		t.Errorf("submitted = %q", got)
	}
}

func TestServeUtterancesRejected(t *testing.T) {
	e := startServer(t)
	c := connect(t, e.URL(), "")

	if err := c.ServeUtterances(&recordingSubmitter{err: assistant.ErrNotInitialized}); err != nil {
		t.Fatal(err)
	}

	nc := rawConn(t, e.URL())
	msg, err := nc.Request("assistant.utterance", []byte("hello"), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Accepted || reply.Error != assistant.ErrNotInitialized.Error() {
		t.Errorf("reply = %+v", reply)
	}
}

func TestConnectValidation(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}, nil); err == nil {
		t.Error("expected error without URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Connect(ctx, Config{URL: "nats://127.0.0.1:1"}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
