// Package relay forwards broadcast frames between nodes over NATS core
// pub/sub so sessions connected to different processes see each other's
// operations, cursors and title changes.
//
// Delivery is at-most-once. A node that misses a frame still converges:
// clients catch up from the durable log by sequence.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject root; frames go to <prefix>.<contentID>.
const DefaultSubjectPrefix = "coedit.content"

// Envelope wraps a frame with the node that produced it.
type Envelope struct {
	Node      string          `json:"node"`
	ContentID string          `json:"contentId"`
	Frame     json.RawMessage `json:"frame"`
}

// Handler receives frames published by other nodes.
type Handler func(Envelope)

// Config configures the relay connection.
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	Node          string // defaults to a random id
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func (c *Config) norm() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	c.SubjectPrefix = strings.TrimSuffix(c.SubjectPrefix, ".")
	if c.Node == "" {
		c.Node = uuid.NewString()
	}
	if c.Name == "" {
		c.Name = "coedit"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
}

// Relay publishes and receives frames for every content item.
type Relay struct {
	cfg Config
	nc  *nats.Conn
	sub *nats.Subscription
	log *zap.Logger
}

// Connect dials NATS. The connection reconnects forever.
func Connect(cfg Config, logger *zap.Logger) (*Relay, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay: nats url missing")
	}
	cfg.norm()
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("node", cfg.Node))

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("relay disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("relay reconnected", zap.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Relay{cfg: cfg, nc: nc, log: log}, nil
}

// Node returns this process's relay identity.
func (r *Relay) Node() string { return r.cfg.Node }

// Subject returns the subject frames for contentID are published on.
func (r *Relay) Subject(contentID string) string {
	return r.cfg.SubjectPrefix + "." + contentID
}

// Publish sends frame to the other nodes.
func (r *Relay) Publish(ctx context.Context, contentID string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Node: r.cfg.Node, ContentID: contentID, Frame: frame})
	if err != nil {
		return err
	}
	return r.nc.Publish(r.Subject(contentID), data)
}

// Subscribe starts delivering frames from other nodes to h. Frames this node
// published are skipped. Subscribe may be called once.
func (r *Relay) Subscribe(h Handler) error {
	if r.sub != nil {
		return errors.New("relay: already subscribed")
	}
	sub, err := r.nc.Subscribe(r.cfg.SubjectPrefix+".*", func(m *nats.Msg) {
		env, ok := Unwrap(m.Data, r.cfg.Node)
		if !ok {
			return
		}
		h(env)
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return r.nc.Flush()
}

// Unwrap decodes an envelope, reporting false for malformed data and for
// envelopes produced by self.
func Unwrap(data []byte, self string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false
	}
	if env.Node == self || env.ContentID == "" || len(env.Frame) == 0 {
		return Envelope{}, false
	}
	return env, true
}

// Ping flushes the connection, confirming the server is reachable.
func (r *Relay) Ping(ctx context.Context) error {
	return r.nc.FlushWithContext(ctx)
}

// Status reports the connection state for health output.
func (r *Relay) Status() string {
	return strings.ToLower(r.nc.Status().String())
}

// Close drains the subscription and the connection.
func (r *Relay) Close() error {
	if r.sub != nil {
		_ = r.sub.Drain()
	}
	return r.nc.Drain()
}
