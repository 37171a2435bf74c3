package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestConstructors(t *testing.T) {
	ev := PaymentSettled("GC", "GS", big.NewInt(500_000), 3, domain.Hash{1}, 42)
	assert.Equal(t, TopicPaymentSettled, ev.Topic)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, domain.Address("GC"), ev.Client)
	assert.Equal(t, "500000", ev.Attributes["amount"])
	assert.Equal(t, "3", ev.Attributes["nonce"])
	assert.Equal(t, uint64(42), ev.Timestamp)

	other := PaymentSettled("GC", "GS", big.NewInt(1), 4, domain.Hash{}, 43)
	assert.NotEqual(t, ev.ID, other.ID)

	p := MinimumPaymentSet("CTOKEN", big.NewInt(0), 1)
	assert.Empty(t, p.Client)
	assert.Equal(t, "0", p.Attributes["amount"])
}

func TestRecorderAndFanout(t *testing.T) {
	var a, b Recorder
	sink := Fanout{&a, nil, &b}
	sink.Publish(context.Background(), Paused("GADMIN", 1))
	sink.Publish(context.Background(), Unpaused("GADMIN", 2))

	assert.Equal(t, []string{TopicPaused, TopicUnpaused}, a.Topics())
	assert.Equal(t, a.Topics(), b.Topics())
	assert.Len(t, a.Events(), 2)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	sink.Publish(context.Background(), ChannelClosed("GC", "GS", big.NewInt(7), 9))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, TopicChannelClosed, line["topic"])
	assert.Equal(t, "GC", line["client"])
	assert.Equal(t, "7", line["refund"])
}

func TestNATSSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := newNATSSink(pub, "", nil)
	ev := ChannelOpened("GC", "GS", "CTOKEN", big.NewInt(1_000_000), 3600, 5)
	sink.Publish(context.Background(), ev)

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "flashsettle.channel_opened", pub.subjects[0])

	var got Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "3600", got.Attributes["ttl"])
}

func TestNATSSinkSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("disconnected")}
	sink := newNATSSink(pub, "settle", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	assert.NotPanics(t, func() {
		sink.Publish(context.Background(), Paused("GADMIN", 1))
	})
	assert.Equal(t, "settle.paused", sink.Subject(TopicPaused))
}
