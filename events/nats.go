package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSConn is the subset of *nats.Conn used by NATS.
type NATSConn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATS publishes events as JSON on subject <prefix>.<type>.
type NATS struct {
	conn   NATSConn
	prefix string
}

// DialNATS connects to url and returns a publisher using prefix.
func DialNATS(url, prefix string) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("pflow"))
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return NewNATS(conn, prefix), nil
}

// NewNATS wraps an existing connection.
func NewNATS(conn NATSConn, prefix string) *NATS {
	if prefix == "" {
		prefix = "pflow"
	}
	return &NATS{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event type is published on.
func (n *NATS) Subject(eventType string) string {
	return n.prefix + "." + eventType
}

func (n *NATS) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}
	if err := n.conn.Publish(n.Subject(e.Type), data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", e.Type, err)
	}
	return nil
}

// Close closes the underlying connection.
func (n *NATS) Close() {
	n.conn.Close()
}
