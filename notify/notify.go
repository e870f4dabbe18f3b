// Package notify publishes lifecycle events (plans built, worlds saved,
// records persisted) so other services can react to environment changes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types.
const (
	EventDAGBuilt         = "dag.built"
	EventWorldSaved       = "world.saved"
	EventRecordsPersisted = "records.persisted"
	EventEnvironmentAdded = "environment.created"
)

// Event is the JSON payload published for each lifecycle change.
type Event struct {
	Type          string         `json:"type"`
	EnvironmentID string         `json:"environment_id,omitempty"`
	RunID         string         `json:"run_id,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	Time          time.Time      `json:"time"`
}

// Publisher delivers events. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Memory keeps events in memory, for tests and the CLI's dry runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of the published events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// NATSPublisher publishes events to "<prefix>.<type>" subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "gosynth.events"

// ConnectNATS dials url and returns a publisher.
func ConnectNATS(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("gosynth"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNATSPublisher(nc, prefix), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject an event of type typ is published on.
func (p *NATSPublisher) Subject(typ string) string {
	return p.prefix + "." + typ
}

// Publish sends ev. NATS publishes are fire-and-forget, so ctx is only
// checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	slog.Debug("notify: published", "subject", p.Subject(ev.Type))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
