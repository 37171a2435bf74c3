package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON on "<prefix>.<topic>".
type NATSSink struct {
	pub    publisher
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials the server and returns a sink bound to it.
func ConnectNATS(url, name, prefix string, logger *slog.Logger) (*NATSSink, *nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSSink(conn, prefix, logger), conn, nil
}

func NewNATSSink(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSSink {
	return newNATSSink(conn, prefix, logger)
}

func newNATSSink(pub publisher, prefix string, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "flashsettle"
	}
	return &NATSSink{pub: pub, prefix: prefix, logger: logger}
}

func (s *NATSSink) Subject(topic string) string { return s.prefix + "." + topic }

func (s *NATSSink) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "encode event", "topic", ev.Topic, "error", err)
		return
	}
	if err := s.pub.Publish(s.Subject(ev.Topic), payload); err != nil {
		s.logger.WarnContext(ctx, "publish event", "topic", ev.Topic, "id", ev.ID, "error", err)
	}
}
