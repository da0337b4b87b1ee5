// Package export streams committed session events to Kafka for downstream
// accounting and audit.
package export

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/domain/session"
	"github.com/xenking/kiosk-core/internal/wire"
)

// Config configures the Kafka sink.
type Config struct {
	Brokers []string
	Topic   string
	Linger  time.Duration
	// MaxBuffered bounds records waiting for delivery; beyond it events are
	// dropped rather than stalling sessions.
	MaxBuffered int
}

type producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

var _ session.EventSink = (*Sink)(nil)

// Sink publishes session events keyed by session id, so the events of one
// session stay ordered within a partition.
type Sink struct {
	client  producer
	topic   string
	lg      *zap.Logger
	dropped atomic.Int64
}

// NewKafkaSink connects a Sink to the configured brokers.
func NewKafkaSink(cfg Config, lg *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = "kiosk.session-events"
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 10_000
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.MaxBufferedRecords(cfg.MaxBuffered),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.Linger > 0 {
		opts = append(opts, kgo.ProducerLinger(cfg.Linger))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	return newSink(client, cfg.Topic, lg), nil
}

func newSink(p producer, topic string, lg *zap.Logger) *Sink {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Sink{client: p, topic: topic, lg: lg}
}

// Publish implements session.EventSink. It never blocks.
func (s *Sink) Publish(ev session.Event) {
	e := jx.GetEncoder()
	wire.EncodeEvent(e, ev)
	value := append([]byte(nil), e.Bytes()...)
	jx.PutEncoder(e)

	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(ev.SessionID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
		Timestamp: ev.At,
	}
	s.client.TryProduce(context.Background(), rec, func(r *kgo.Record, err error) {
		if err == nil {
			return
		}
		s.dropped.Add(1)
		s.lg.Warn("Event export failed",
			zap.String("session_id", ev.SessionID),
			zap.Uint64("seq", ev.Seq),
			zap.Error(err),
		)
	})
}

// Dropped returns the number of events that could not be exported.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes buffered events and disconnects.
func (s *Sink) Close(ctx context.Context) error {
	defer s.client.Close()
	if err := s.client.Flush(ctx); err != nil {
		return errors.Wrap(err, "flush")
	}
	return nil
}
