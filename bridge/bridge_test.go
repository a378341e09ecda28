package bridge

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/logging/logger"
)

// memBroker is an in-process Broker for tests.
type memBroker struct {
	mu   sync.Mutex
	subs map[string][]*memSubscription
}

func newMemBroker() *memBroker {
	return &memBroker{subs: make(map[string][]*memSubscription)}
}

func (b *memBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	targets := append([]*memSubscription(nil), b.subs[channel]...)
	b.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(payload)
	}
	return nil
}

func (b *memBroker) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memSubscription{
		broker:  b,
		channel: channel,
		out:     make(chan []byte, 16),
	}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()
	return sub, nil
}

type memSubscription struct {
	broker  *memBroker
	channel string
	out     chan []byte
	closed  bool
	mu      sync.Mutex
}

func (s *memSubscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- payload:
	default:
	}
}

func (s *memSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *memSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.out)

	s.broker.mu.Lock()
	subs := s.broker.subs[s.channel]
	for i, sub := range subs {
		if sub == s {
			s.broker.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.broker.mu.Unlock()
	return nil
}

func quietLogger() *logger.Logger {
	log := logger.StandardLogger()
	log.SetOutput(io.Discard)
	return log
}

func TestVerifierRoundTrip(t *testing.T) {
	broker := newMemBroker()
	stop := startListener(t, broker, map[string]*structs.Identity{
		"good-token": {ID: 7, Email: "alice@example.com", Role: structs.RoleUser},
	})
	defer stop()

	v := NewVerifier(broker, time.Second, quietLogger())

	ident, ok := v.Verify(context.Background(), "good-token")
	if !ok {
		t.Fatalf("expected valid verdict")
	}
	if ident.ID != 7 || ident.Email != "alice@example.com" || ident.Role != structs.RoleUser {
		t.Fatalf("unexpected identity %+v", ident)
	}
}

func TestVerifierInvalidToken(t *testing.T) {
	broker := newMemBroker()
	stop := startListener(t, broker, nil)
	defer stop()

	v := NewVerifier(broker, time.Second, quietLogger())

	if _, ok := v.Verify(context.Background(), "garbage"); ok {
		t.Fatalf("expected invalid verdict for unknown token")
	}
}

func TestVerifierTimeoutFailsClosed(t *testing.T) {
	// No authority listening: the verifier must time out and report invalid.
	broker := newMemBroker()
	v := NewVerifier(broker, 50*time.Millisecond, quietLogger())

	start := time.Now()
	if _, ok := v.Verify(context.Background(), "any-token"); ok {
		t.Fatalf("expected timeout to yield invalid")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("verifier returned before the timeout elapsed: %v", elapsed)
	}
}

func TestVerifierUnsubscribesAfterVerdict(t *testing.T) {
	broker := newMemBroker()
	stop := startListener(t, broker, nil)
	defer stop()

	v := NewVerifier(broker, time.Second, quietLogger())
	_, _ = v.Verify(context.Background(), "some-token")

	broker.mu.Lock()
	defer broker.mu.Unlock()
	for channel, subs := range broker.subs {
		if channel == RequestChannel {
			continue
		}
		if len(subs) != 0 {
			t.Fatalf("expected reply channel %s to be unsubscribed", channel)
		}
	}
}

func TestVerifierTakesFirstOfDuplicateReplies(t *testing.T) {
	broker := newMemBroker()

	// Authority that answers every request twice on the reply channel.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reqSub, err := broker.Subscribe(ctx, RequestChannel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reqSub.Close()
	go func() {
		for raw := range reqSub.Messages() {
			var req Request
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}
			reply, _ := json.Marshal(Reply{Valid: true, User: &structs.Identity{ID: 5, Email: "eve@example.com", Role: structs.RoleUser}})
			_ = broker.Publish(ctx, req.ResponseChannel, reply)
			_ = broker.Publish(ctx, req.ResponseChannel, reply)
		}
	}()

	v := NewVerifier(broker, time.Second, quietLogger())

	ident, ok := v.Verify(context.Background(), "echoed-token")
	if !ok || ident.ID != 5 {
		t.Fatalf("expected the first reply to win, got %+v ok=%v", ident, ok)
	}

	// The reply subscription is gone, so the stray second copy went nowhere
	// and the next verification starts clean.
	ident, ok = v.Verify(context.Background(), "echoed-token")
	if !ok || ident.ID != 5 {
		t.Fatalf("second verification polluted by stale reply, got %+v ok=%v", ident, ok)
	}
}

func TestVerifierConcurrentRequestsDoNotCrossTalk(t *testing.T) {
	broker := newMemBroker()
	stop := startListener(t, broker, map[string]*structs.Identity{
		"token-a": {ID: 1, Email: "a@example.com", Role: structs.RoleUser},
		"token-b": {ID: 2, Email: "b@example.com", Role: structs.RoleAdmin},
	})
	defer stop()

	v := NewVerifier(broker, time.Second, quietLogger())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ident, ok := v.Verify(context.Background(), "token-a")
		if !ok || ident.ID != 1 {
			t.Errorf("token-a resolved to %+v", ident)
		}
	}()
	go func() {
		defer wg.Done()
		ident, ok := v.Verify(context.Background(), "token-b")
		if !ok || ident.ID != 2 {
			t.Errorf("token-b resolved to %+v", ident)
		}
	}()
	wg.Wait()
}

type stubVerifier struct {
	verdicts map[string]*structs.Identity
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*structs.Identity, error) {
	if ident, ok := s.verdicts[token]; ok {
		return ident, nil
	}
	return nil, structs.ErrInvalidToken
}

func startListener(t *testing.T, broker Broker, verdicts map[string]*structs.Identity) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(broker, &stubVerifier{verdicts: verdicts}, quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	// Let the listener subscribe before the test publishes.
	time.Sleep(10 * time.Millisecond)

	return func() {
		cancel()
		<-done
	}
}

func TestListenerAnswersOnReplyChannel(t *testing.T) {
	broker := newMemBroker()
	stop := startListener(t, broker, map[string]*structs.Identity{
		"good-token": {ID: 9, Email: "carol@example.com", Role: structs.RoleModerator},
	})
	defer stop()

	ctx := context.Background()
	replySub, err := broker.Subscribe(ctx, "reply-inbox")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer replySub.Close()

	payload, _ := json.Marshal(Request{Token: "good-token", ResponseChannel: "reply-inbox"})
	if err := broker.Publish(ctx, RequestChannel, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case raw := <-replySub.Messages():
		var reply Reply
		if err := json.Unmarshal(raw, &reply); err != nil {
			t.Fatalf("reply malformed: %v", err)
		}
		if !reply.Valid || reply.User == nil || reply.User.ID != 9 {
			t.Fatalf("unexpected reply %+v", reply)
		}
	case <-time.After(time.Second):
		t.Fatalf("no reply published")
	}
}

func TestListenerSkipsMalformedRequests(t *testing.T) {
	broker := newMemBroker()
	stop := startListener(t, broker, nil)
	defer stop()

	ctx := context.Background()
	replySub, err := broker.Subscribe(ctx, "reply-inbox")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer replySub.Close()

	// Garbage and a request without a reply channel must be skipped without
	// killing the loop.
	_ = broker.Publish(ctx, RequestChannel, []byte("not json"))
	_ = broker.Publish(ctx, RequestChannel, []byte(`{"token":"x"}`))

	good, _ := json.Marshal(Request{Token: "unknown", ResponseChannel: "reply-inbox"})
	_ = broker.Publish(ctx, RequestChannel, good)

	select {
	case raw := <-replySub.Messages():
		var reply Reply
		if err := json.Unmarshal(raw, &reply); err != nil {
			t.Fatalf("reply malformed: %v", err)
		}
		if reply.Valid {
			t.Fatalf("expected invalid verdict for unknown token")
		}
	case <-time.After(time.Second):
		t.Fatalf("listener loop did not survive malformed input")
	}
}

func TestVerifierThroughListenerRoundTrip(t *testing.T) {
	broker := newMemBroker()
	stop := startListener(t, broker, map[string]*structs.Identity{
		"good-token": {ID: 3, Email: "dave@example.com", Role: structs.RoleUser},
	})
	defer stop()

	v := NewVerifier(broker, time.Second, quietLogger())

	ident, ok := v.Verify(context.Background(), "good-token")
	if !ok || ident.ID != 3 {
		t.Fatalf("round trip failed, got %+v ok=%v", ident, ok)
	}
	if _, ok := v.Verify(context.Background(), "bad-token"); ok {
		t.Fatalf("expected invalid verdict for bad token")
	}
}
