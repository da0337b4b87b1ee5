package export

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/xenking/kiosk-core/internal/domain/session"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	fail    error
	flushed bool
	closed  bool
}

func (p *fakeProducer) TryProduce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.mu.Lock()
	p.records = append(p.records, r)
	err := p.fail
	p.mu.Unlock()
	promise(r, err)
}

func (p *fakeProducer) Flush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed = true
	return nil
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func TestSink_Publish(t *testing.T) {
	p := &fakeProducer{}
	s := newSink(p, "events", nil)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Publish(session.Event{SessionID: "s-1", Seq: 1, Kind: session.KindSessionCreated, At: at})
	s.Publish(session.Event{SessionID: "s-1", Seq: 2, Kind: session.KindCartUpdated, At: at})

	require.Len(t, p.records, 2)
	rec := p.records[1]
	assert.Equal(t, "events", rec.Topic)
	assert.Equal(t, []byte("s-1"), rec.Key)
	assert.Equal(t, at, rec.Timestamp)
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "CART_UPDATED", string(rec.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Value, &body))
	assert.Equal(t, float64(2), body["seq"])
	assert.Zero(t, s.Dropped())
}

func TestSink_CountsDrops(t *testing.T) {
	p := &fakeProducer{fail: kgo.ErrMaxBuffered}
	s := newSink(p, "events", nil)

	s.Publish(session.Event{SessionID: "s-1", Seq: 1, Kind: session.KindSessionCreated})
	assert.Equal(t, int64(1), s.Dropped())

	p.fail = errors.New("broker gone")
	s.Publish(session.Event{SessionID: "s-1", Seq: 2, Kind: session.KindCartUpdated})
	assert.Equal(t, int64(2), s.Dropped())
}

func TestSink_Close(t *testing.T) {
	p := &fakeProducer{}
	s := newSink(p, "events", nil)
	require.NoError(t, s.Close(context.Background()))
	assert.True(t, p.flushed)
	assert.True(t, p.closed)
}

func TestNewKafkaSink_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(Config{}, nil)
	require.Error(t, err)
}
