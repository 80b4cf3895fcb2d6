// Package bus bridges the assistant to a NATS bus: status events are
// published as JSON and utterances arriving on a subject are submitted to the
// turn loop.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/go-voice-assistant/internal/assistant"
)

const (
	DefaultPrefix = "assistant"

	statusSubject    = "status"
	utteranceSubject = "utterance"
)

// Config selects the server and the subject namespace.
type Config struct {
	URL            string
	SubjectPrefix  string
	Name           string
	ConnectTimeout time.Duration
	Token          string
}

// Submitter accepts transcribed utterances.
type Submitter interface {
	SubmitUtterance(text string) error
}

// Client wraps a NATS connection with the assistant subjects.
type Client struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Reply is sent to utterance requests that carry a reply subject.
type Reply struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("no NATS server configured")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "voiceassistant"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	options := []nats.Option{
		nats.Name(name),
		nats.Timeout(timeout),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	prefix := strings.Trim(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	log.Info("connected to NATS", slog.String("url", cfg.URL), slog.String("prefix", prefix))

	return &Client{conn: conn, prefix: prefix, log: log}, nil
}

// StatusSubject is the subject status events are published on.
func (c *Client) StatusSubject() string { return c.prefix + "." + statusSubject }

// UtteranceSubject is the subject utterances are read from.
func (c *Client) UtteranceSubject() string { return c.prefix + "." + utteranceSubject }

// PublishStatus publishes one event.
func (c *Client) PublishStatus(ev assistant.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	if err := c.conn.Publish(c.StatusSubject(), data); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// Forward publishes events until the channel closes or ctx is done.
// Publish failures are logged and do not stop forwarding.
func (c *Client) Forward(ctx context.Context, events <-chan assistant.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.PublishStatus(ev); err != nil {
				c.log.Warn("status publish failed", slog.Uint64("seq", ev.Seq), slog.Any("error", err))
			}
		}
	}
}

// ServeUtterances submits every message on the utterance subject. The
// payload is the utterance text. Requests get a Reply.
func (c *Client) ServeUtterances(s Submitter) error {
	sub, err := c.conn.Subscribe(c.UtteranceSubject(), func(msg *nats.Msg) {
		err := s.SubmitUtterance(string(msg.Data))
		if err != nil {
			c.log.Info("utterance rejected", slog.Any("error", err))
		}

		if msg.Reply == "" {
			return
		}

		reply := Reply{Accepted: err == nil}
		if err != nil {
			reply.Error = err.Error()
		}
		data, _ := json.Marshal(reply)
		if rerr := msg.Respond(data); rerr != nil {
			c.log.Warn("utterance reply failed", slog.Any("error", rerr))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.UtteranceSubject(), err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	return c.conn.Flush()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.subs = nil
	c.mu.Unlock()

	c.log.Info("closing NATS connection")
	if err := c.conn.Drain(); err != nil {
		c.log.Debug("nats drain", slog.Any("error", err))
	}
	c.conn.Close()
}
