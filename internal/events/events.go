// Package events carries settlement engine notifications to downstream
// consumers. Publishing is fire-and-forget: sinks never fail an operation.
package events

import (
	"context"
	"log/slog"
	"math/big"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

const (
	TopicInitialized       = "initialized"
	TopicChannelOpened     = "channel_opened"
	TopicPaymentSettled    = "payment_settled"
	TopicChannelExpired    = "channel_expired"
	TopicChannelClosed     = "channel_closed"
	TopicEmergencyWithdraw = "emergency_withdraw"
	TopicPaused            = "paused"
	TopicUnpaused          = "unpaused"
	TopicMinimumPaymentSet = "minimum_payment_set"
)

// Event is one engine notification. Client and Server are empty for policy events.
type Event struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Client     domain.Address    `json:"client,omitempty"`
	Server     domain.Address    `json:"server,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  uint64            `json:"timestamp"`
}

type Sink interface {
	Publish(ctx context.Context, ev Event)
}

func newEvent(topic string, client, server domain.Address, ts uint64, attrs map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		Client:     client,
		Server:     server,
		Attributes: attrs,
		Timestamp:  ts,
	}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func Initialized(admin domain.Address, ts uint64) Event {
	return newEvent(TopicInitialized, "", "", ts, map[string]string{"admin": admin.String()})
}

func ChannelOpened(client, server, token domain.Address, amount *big.Int, ttl, ts uint64) Event {
	return newEvent(TopicChannelOpened, client, server, ts, map[string]string{
		"token":  token.String(),
		"amount": amount.String(),
		"ttl":    u64(ttl),
	})
}

func PaymentSettled(client, server domain.Address, amount *big.Int, nonce uint64, authHash domain.Hash, ts uint64) Event {
	return newEvent(TopicPaymentSettled, client, server, ts, map[string]string{
		"amount":    amount.String(),
		"nonce":     u64(nonce),
		"auth_hash": authHash.String(),
	})
}

func ChannelExpired(client, server domain.Address, lastActivity, ts uint64) Event {
	return newEvent(TopicChannelExpired, client, server, ts, map[string]string{
		"last_activity_at": u64(lastActivity),
	})
}

func ChannelClosed(client, server domain.Address, refund *big.Int, ts uint64) Event {
	return newEvent(TopicChannelClosed, client, server, ts, map[string]string{"refund": refund.String()})
}

func EmergencyWithdraw(client, server domain.Address, refund *big.Int, ts uint64) Event {
	return newEvent(TopicEmergencyWithdraw, client, server, ts, map[string]string{"refund": refund.String()})
}

func Paused(admin domain.Address, ts uint64) Event {
	return newEvent(TopicPaused, "", "", ts, map[string]string{"admin": admin.String()})
}

func Unpaused(admin domain.Address, ts uint64) Event {
	return newEvent(TopicUnpaused, "", "", ts, map[string]string{"admin": admin.String()})
}

func MinimumPaymentSet(token domain.Address, amount *big.Int, ts uint64) Event {
	return newEvent(TopicMinimumPaymentSet, "", "", ts, map[string]string{
		"token":  token.String(),
		"amount": amount.String(),
	})
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"id", ev.ID, "topic", ev.Topic, "timestamp", ev.Timestamp}
	if ev.Client != "" {
		attrs = append(attrs, "client", ev.Client.String(), "server", ev.Server.String())
	}
	for k, v := range ev.Attributes {
		attrs = append(attrs, k, v)
	}
	logger.InfoContext(ctx, "settlement event", attrs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Topics lists the recorded topics in publish order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, len(r.events))
	for i, ev := range r.events {
		topics[i] = ev.Topic
	}
	return topics
}

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}
