// Package broadcast carries coordination envelopes between wallet instances
// sharing one installation.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/redis/go-redis/v9"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

// Envelope is one coordination message. Timestamp is unix milliseconds.
type Envelope struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	SenderTabID string          `json:"senderTabId"`
}

// Transport is a best-effort publish/subscribe channel. Delivery is at most
// once and subscribers also receive their own envelopes.
type Transport interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	Close() error
}

type WatermillTransport struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	owned      bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWatermillTransport wraps an existing publisher/subscriber pair. When owned
// is true Close also closes them.
func NewWatermillTransport(pub message.Publisher, sub message.Subscriber, topic string, owned bool) *WatermillTransport {
	return &WatermillTransport{
		publisher:  pub,
		subscriber: sub,
		topic:      topic,
		owned:      owned,
		closed:     make(chan struct{}),
	}
}

// NewBus returns an in-process pub/sub that several transports can share.
func NewBus() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewStdLogger(false, false),
	)
}

// NewInProcess attaches a transport to a shared in-process bus.
func NewInProcess(bus *gochannel.GoChannel, topic string) *WatermillTransport {
	return NewWatermillTransport(bus, bus, topic, false)
}

// NewRedis returns a transport over Redis streams. Every subscriber reads the
// whole stream.
func NewRedis(client redis.UniversalClient, topic string) (*WatermillTransport, error) {
	logger := watermill.NewStdLogger(false, false)
	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logger,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	sub, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:   client,
			OldestId: "$",
		},
		logger,
	)
	if err != nil {
		_ = pub.Close()
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}
	return NewWatermillTransport(pub, sub, topic, true), nil
}

func (t *WatermillTransport) Publish(_ context.Context, env Envelope) error {
	select {
	case <-t.closed:
		return errors.Wrap(core.ErrClosed, "broadcast transport")
	default:
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := t.publisher.Publish(t.topic, msg); err != nil {
		return errors.Wrapf(err, "failed to publish %s", env.Type)
	}
	return nil
}

// Subscribe streams envelopes until ctx is done or the transport is closed.
func (t *WatermillTransport) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ctx, cancel := context.WithCancel(ctx)
	msgs, err := t.subscriber.Subscribe(ctx, t.topic)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "subscribe %s", t.topic)
	}

	out := make(chan Envelope, 64)
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				msg.Ack()
				var env Envelope
				if err := json.Unmarshal(msg.Payload, &env); err != nil {
					log.Warn("dropping malformed broadcast", "uuid", msg.UUID, "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				case <-t.closed:
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *WatermillTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if !t.owned {
			return
		}
		if perr := t.publisher.Close(); perr != nil {
			err = perr
		}
		if serr := t.subscriber.Close(); serr != nil {
			err = errors.CombineErrors(err, serr)
		}
	})
	return err
}
