package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/segmentio/encoding/json"
)

const (
	defaultStream = "STARFLEET"
	subjectPrefix = "starfleet."
)

// JetStreamBus реализует EventBus поверх NATS JetStream.
// События лежат в subjects starfleet.<EventType>.
type JetStreamBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewJetStreamBus подключается к NATS и создаёт стрим, если его нет.
// retention ограничивает возраст сообщений; 0 - без ограничения.
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = defaultStream
	}

	nc, err := nats.Connect(url, nats.Name("starfleet"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.StreamInfo(stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subjectPrefix + "*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    retention,
			Storage:   nats.FileStorage,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("stream %s: %w", stream, err)
	}

	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

func subject(eventType string) string {
	return subjectPrefix + eventType
}

// Publish публикует Envelope в JSON и ждёт подтверждения стрима
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err == nil {
		_, err = jb.js.Publish(subject(ev.EventType), data, nats.Context(ctx))
	}
	if err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("jetstream publish %s: %w", ev.EventType, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создаёт эфемерный consumer на каждый тип из фильтра (или один на все)
// и получает только новые события. Фильтр по источникам применяется после декодирования.
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subjects := []string{subjectPrefix + "*"}
	if len(f.Types) > 0 {
		subjects = subjects[:0]
		for _, t := range f.Types {
			subjects = append(subjects, subject(t))
		}
	}

	handle := func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err == nil && matchFilter(&ev, f) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
		_ = msg.Ack()
	}

	subs := make(jetSubs, 0, len(subjects))
	for _, subj := range subjects {
		s, err := jb.js.Subscribe(subj, handle,
			nats.BindStream(jb.stream), nats.DeliverNew(), nats.ManualAck(), nats.AckWait(30*time.Second))
		if err != nil {
			subs.Unsubscribe()
			return nil, fmt.Errorf("jetstream subscribe %s: %w", subj, err)
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// jetSubs подписки одного вызова Subscribe
type jetSubs []*nats.Subscription

func (s jetSubs) Unsubscribe() {
	for _, sub := range s {
		_ = sub.Unsubscribe()
	}
}

// Metrics счётчики шины; очередь держит сам JetStream
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
	}
}

// Close дожидается отправки и закрывает соединение
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
