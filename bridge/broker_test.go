package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisSubscriptionPumpExitsOnCloseWithNoReader(t *testing.T) {
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rc.Close()
	ps := rc.Subscribe(context.Background(), "noop")

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte, 1),
		done: make(chan struct{}),
	}

	// One message fills the buffer, the second parks the pump on a send
	// that no receiver will ever drain.
	src := make(chan *redis.Message, 2)
	src <- &redis.Message{Payload: "reply"}
	src <- &redis.Message{Payload: "late reply"}

	pumpDone := make(chan struct{})
	go func() {
		sub.pump(src)
		close(pumpDone)
	}()

	time.Sleep(10 * time.Millisecond)
	_ = sub.Close()

	select {
	case <-pumpDone:
	case <-time.After(time.Second):
		t.Fatalf("pump still running after Close")
	}
}

func TestRedisSubscriptionDeliversUntilSourceCloses(t *testing.T) {
	sub := &redisSubscription{
		out:  make(chan []byte, subscriptionBuffer),
		done: make(chan struct{}),
	}

	src := make(chan *redis.Message, 1)
	src <- &redis.Message{Payload: "reply"}
	close(src)

	go sub.pump(src)

	select {
	case raw := <-sub.Messages():
		if string(raw) != "reply" {
			t.Fatalf("unexpected payload %q", raw)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message delivered")
	}

	select {
	case _, open := <-sub.Messages():
		if open {
			t.Fatalf("expected output channel to close with the source")
		}
	case <-time.After(time.Second):
		t.Fatalf("output channel not closed")
	}
}
