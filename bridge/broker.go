package bridge

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker is the pub/sub transport the verifier and listener ride on.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a live channel subscription. Close always unsubscribes,
// even when the subscriber timed out without receiving a message.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// RedisBroker adapts a redis client to the Broker interface.
type RedisBroker struct {
	rc *redis.Client
}

func NewRedisBroker(rc *redis.Client) *RedisBroker {
	return &RedisBroker{rc: rc}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rc.Publish(ctx, channel, payload).Err()
}

// Subscribe returns only after redis confirms the subscription, so a
// publish that follows cannot race past the subscriber.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.rc.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

// subscriptionBuffer absorbs replies that land between the subscriber's
// last read and its Close, so the pump never parks on a dead receiver.
const subscriptionBuffer = 8

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

// pump forwards messages until the source closes or the subscription does.
// A reply arriving after the subscriber gave up must not wedge the goroutine.
func (s *redisSubscription) pump(src <-chan *redis.Message) {
	defer close(s.out)
	for msg := range src {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}
