package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "wrp"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events as JSON on <prefix>.<kind> subjects, for
// example "wrp.stream.started".
type NATSPublisher struct {
	conn   Conn
	prefix string
	server string
}

// ConnectNATS dials url and returns a publisher on top of the connection.
//
// Parameters:
//   - url: NATS server URL, e.g. nats://127.0.0.1:4222
//   - prefix: Subject prefix; DefaultSubjectPrefix when empty
//   - server: Server name stamped on every event
//
// Returns:
//   - The publisher, or an error if the connection failed
func ConnectNATS(url, prefix, server string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(server),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}

	return NewNATSPublisher(nc, prefix, server), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Conn, prefix, server string) *NATSPublisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &NATSPublisher{conn: conn, prefix: prefix, server: server}
}

// Subject returns the subject events of kind k are published on.
func (p *NATSPublisher) Subject(k Kind) string {
	return p.prefix + "." + string(k)
}

// Publish implements Publisher. The nats client buffers outgoing messages,
// so this does not wait for the network.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ev.Server == "" {
		ev.Server = p.server
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", ev.Kind, err)
	}

	if err := p.conn.Publish(p.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("notify: publish %s: %w", ev.Kind, err)
	}

	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
